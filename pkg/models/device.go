package models

import "net"

// Device describes a capture-capable interface at the time it was enumerated.
type Device struct {
	Name        string
	Description string
	Addresses   []net.IPNet
	Loopback    bool
	Up          bool
}
