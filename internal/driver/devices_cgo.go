//go:build cgo

package driver

import (
	"net"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/framecap/pkg/models"
)

// Devices enumerates capture devices through libpcap.
func Devices() ([]models.Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	up := interfaceFlags()
	devs := make([]models.Device, 0, len(ifs))
	for _, ifc := range ifs {
		dev := models.Device{
			Name:        ifc.Name,
			Description: ifc.Description,
		}
		for _, a := range ifc.Addresses {
			dev.Addresses = append(dev.Addresses, net.IPNet{IP: a.IP, Mask: a.Netmask})
		}
		if flags, ok := up[ifc.Name]; ok {
			dev.Up = flags&net.FlagUp != 0
			dev.Loopback = flags&net.FlagLoopback != 0
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

func interfaceFlags() map[string]net.Flags {
	out := make(map[string]net.Flags)
	ifs, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, ifc := range ifs {
		out[ifc.Name] = ifc.Flags
	}
	return out
}
