//go:build cgo

package driver

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/pkg/models"
)

func init() {
	Register(KindLive, openPcapLive)
	Register(KindOffline, openPcapOffline)
}

// pcapDriver wraps a libpcap handle, live or savefile.
type pcapDriver struct {
	dispatcher
	handle  *pcap.Handle
	offline bool
}

var _ Driver = (*pcapDriver)(nil)

func openPcapLive(opts Options) (Driver, error) {
	if opts.RemoteAuth != nil {
		return nil, fmt.Errorf("remote capture credentials: %w", ErrUnsupported)
	}
	inactive, err := pcap.NewInactiveHandle(opts.Source)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, fmt.Errorf("snaplen: %w", err)
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, fmt.Errorf("promisc: %w", err)
	}
	if opts.Monitor {
		if err := inactive.SetRFMon(true); err != nil {
			return nil, fmt.Errorf("monitor mode: %w", err)
		}
	}
	if err := inactive.SetTimeout(opts.ReadTimeout); err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	if opts.Immediate {
		if err := inactive.SetImmediateMode(true); err != nil {
			return nil, fmt.Errorf("immediate mode: %w", err)
		}
	}
	if opts.BufferSize > 0 {
		if err := inactive.SetBufferSize(opts.BufferSize); err != nil {
			return nil, fmt.Errorf("buffer size: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, err
	}
	return newPcapDriver(handle, false), nil
}

func openPcapOffline(opts Options) (Driver, error) {
	handle, err := pcap.OpenOffline(opts.Source)
	if err != nil {
		return nil, err
	}
	return newPcapDriver(handle, true), nil
}

func newPcapDriver(handle *pcap.Handle, offline bool) *pcapDriver {
	d := &pcapDriver{handle: handle, offline: offline}
	d.read = d.readPacket
	return d
}

func (d *pcapDriver) readPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := d.handle.ZeroCopyReadPacketData()
	if err != nil {
		var nextErr pcap.NextError
		if errors.As(err, &nextErr) && nextErr == pcap.NextErrorTimeoutExpired {
			return nil, ci, ErrTimeout
		}
		if errors.Is(err, io.EOF) {
			return nil, ci, io.EOF
		}
		return nil, ci, err
	}
	return data, ci, nil
}

func (d *pcapDriver) LinkType() layers.LinkType {
	return d.handle.LinkType()
}

func (d *pcapDriver) SetBPF(insns []bpf.RawInstruction) error {
	prog := make([]pcap.BPFInstruction, len(insns))
	for i, ins := range insns {
		prog[i] = pcap.BPFInstruction{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return d.handle.SetBPFInstructionFilter(prog)
}

func (d *pcapDriver) Send(data []byte) error {
	if d.offline {
		return ErrUnsupported
	}
	return d.handle.WritePacketData(data)
}

// ConcurrentSend is true for live handles. gopacket only locks the read path,
// pcap_sendpacket does not touch the capture buffer.
func (d *pcapDriver) ConcurrentSend() bool { return !d.offline }

func (d *pcapDriver) Stats() (models.Statistics, error) {
	if d.offline {
		return models.Statistics{}, ErrUnsupported
	}
	s, err := d.handle.Stats()
	if err != nil {
		return models.Statistics{}, err
	}
	return models.Statistics{
		Received:         uint32(s.PacketsReceived),
		Dropped:          uint32(s.PacketsDropped),
		InterfaceDropped: uint32(s.PacketsIfDropped),
	}, nil
}

func (d *pcapDriver) Close() error {
	d.handle.Close()
	return nil
}
