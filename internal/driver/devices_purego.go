//go:build !cgo

package driver

import (
	"net"

	"firestige.xyz/framecap/pkg/models"
)

// Devices enumerates network interfaces; without libpcap every interface is
// a candidate for the raw socket backend.
func Devices() ([]models.Device, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	devs := make([]models.Device, 0, len(ifs))
	for _, ifc := range ifs {
		dev := models.Device{
			Name:     ifc.Name,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		addrs, _ := ifc.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				dev.Addresses = append(dev.Addresses, *ipnet)
			}
		}
		devs = append(devs, dev)
	}
	return devs, nil
}
