//go:build linux

package driver

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/framecap/pkg/models"
)

// ethAll is htons(ETH_P_ALL).
const ethAll uint16 = unix.ETH_P_ALL<<8 | unix.ETH_P_ALL>>8

func init() {
	Register(KindRawSocket, openRawSocket)
}

// RawSocketParams are the "driver" settings understood by the rawsock backend.
type RawSocketParams struct {
	// Protocol restricts the socket to one EtherType. Zero means all.
	Protocol uint16 `mapstructure:"protocol"`
}

// rawSocket is a plain AF_PACKET socket. Its descriptor is non-blocking and
// pollable, so the capture loop can wait on it with a bounded timeout.
type rawSocket struct {
	fd       int
	ifindex  int
	loopback bool
	timeout  time.Duration
	buf      []byte
	broken   atomic.Bool

	// PACKET_STATISTICS resets on every read, so the totals are kept here.
	stats models.Statistics
}

var (
	_ Driver           = (*rawSocket)(nil)
	_ Selectable       = (*rawSocket)(nil)
	_ ConcurrentSender = (*rawSocket)(nil)
)

func openRawSocket(opts Options) (Driver, error) {
	var params RawSocketParams
	if err := mapstructure.Decode(opts.Params, &params); err != nil {
		return nil, fmt.Errorf("rawsock params: %w", err)
	}
	proto := ethAll
	if params.Protocol != 0 {
		proto = params.Protocol<<8 | params.Protocol>>8
	}

	s := &rawSocket{
		timeout: opts.ReadTimeout,
		buf:     make([]byte, opts.SnapLen),
	}
	if opts.Source != "" && opts.Source != "any" {
		ifi, err := net.InterfaceByName(opts.Source)
		if err != nil {
			return nil, err
		}
		s.ifindex = ifi.Index
		s.loopback = ifi.Flags&net.FlagLoopback != 0
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	s.fd = fd

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: s.ifindex}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", opts.Source, err)
	}
	if opts.Promiscuous && s.ifindex != 0 {
		mreq := &unix.PacketMreq{Ifindex: int32(s.ifindex), Type: unix.PACKET_MR_PROMISC}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("promisc: %w", err)
		}
	}
	if opts.BufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.BufferSize); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("rcvbuf: %w", err)
		}
	}
	return s, nil
}

func (s *rawSocket) Fd() int {
	return s.fd
}

func (s *rawSocket) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *rawSocket) SetBPF(insns []bpf.RawInstruction) error {
	if len(insns) == 0 {
		return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_DETACH_FILTER, 0)
	}
	prog := make([]unix.SockFilter, len(insns))
	for i, ins := range insns {
		prog[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := &unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]}
	return unix.SetsockoptSockFprog(s.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog)
}

// recv reads one pending frame without blocking.
func (s *rawSocket) recv() ([]byte, gopacket.CaptureInfo, error) {
	for {
		n, from, err := unix.Recvfrom(s.fd, s.buf, unix.MSG_TRUNC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return nil, gopacket.CaptureInfo{}, ErrTimeout
			}
			return nil, gopacket.CaptureInfo{}, err
		}
		ll, _ := from.(*unix.SockaddrLinklayer)
		if ll != nil && s.loopback && ll.Pkttype == unix.PACKET_OUTGOING {
			// loopback frames show up once per direction
			continue
		}
		caplen := n
		if caplen > len(s.buf) {
			caplen = len(s.buf)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: caplen,
			Length:        n,
		}
		if ll != nil {
			ci.InterfaceIndex = ll.Ifindex
		}
		return s.buf[:caplen], ci, nil
	}
}

// wait polls the descriptor for events, returning false on timeout.
func (s *rawSocket) wait(events int16, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

func (s *rawSocket) Next() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.recv()
	if !errors.Is(err, ErrTimeout) {
		return data, ci, err
	}
	ready, err := s.wait(unix.POLLIN, s.timeout)
	if err != nil {
		return nil, ci, err
	}
	if !ready {
		return nil, ci, ErrTimeout
	}
	return s.recv()
}

// Dispatch drains the frames already queued on the socket and never blocks.
func (s *rawSocket) Dispatch(max int, fn Handler) (int, error) {
	if max <= 0 {
		max = DefaultBatch
	}
	n := 0
	for n < max {
		if s.broken.CompareAndSwap(true, false) {
			if n > 0 {
				return n, nil
			}
			return 0, ErrBreak
		}
		data, ci, err := s.recv()
		if errors.Is(err, ErrTimeout) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		fn(data, ci)
		n++
	}
	return n, nil
}

func (s *rawSocket) BreakLoop() {
	s.broken.Store(true)
}

func (s *rawSocket) Send(data []byte) error {
	if s.ifindex == 0 {
		// a socket bound to every interface has no egress device
		return ErrUnsupported
	}
	_, err := unix.Write(s.fd, data)
	if errors.Is(err, unix.EAGAIN) {
		ready, werr := s.wait(unix.POLLOUT, s.timeout)
		if werr != nil {
			return werr
		}
		if !ready {
			return fmt.Errorf("send: %w", ErrTimeout)
		}
		_, err = unix.Write(s.fd, data)
	}
	return err
}

func (s *rawSocket) ConcurrentSend() bool { return true }

func (s *rawSocket) Stats() (models.Statistics, error) {
	st, err := unix.GetsockoptTpacketStats(s.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS)
	if err != nil {
		return models.Statistics{}, err
	}
	s.stats.Received += st.Packets
	s.stats.Dropped += st.Drops
	return s.stats, nil
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
