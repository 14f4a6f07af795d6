//go:build linux && !cgo

package driver

// Without libpcap, live capture on linux goes through a raw AF_PACKET socket.
func init() {
	Register(KindLive, openRawSocket)
}
