// Package driver adapts native and pure-Go capture backends to the small
// contract the capture handle consumes.
package driver

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/internal/replay"
	"firestige.xyz/framecap/pkg/codec"
	"firestige.xyz/framecap/pkg/models"
)

var (
	// ErrTimeout means the read timeout expired with no frame available.
	ErrTimeout = errors.New("framecap: read timeout expired")
	// ErrBreak means BreakLoop interrupted a dispatch before any frame was read.
	ErrBreak = errors.New("framecap: dispatch interrupted")
	// ErrUnsupported means the backend has no such facility.
	ErrUnsupported = errors.New("framecap: operation not supported by this source")
	// ErrUnknownKind means no backend is registered for the requested kind.
	ErrUnknownKind = errors.New("framecap: unknown source kind")
)

const (
	DefaultSnapLen     = 65535
	DefaultReadTimeout = 500 * time.Millisecond
	DefaultBatch       = 64
)

// Kind selects a backend.
type Kind string

const (
	KindLive      Kind = "live"
	KindOffline   Kind = "offline"
	KindReader    Kind = "reader"
	KindAFPacket  Kind = "afpacket"
	KindRawSocket Kind = "rawsock"
	KindLoopback  Kind = "loopback"
)

// ParseKind is case-insensitive and accepts a few common spellings.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "live", "pcap":
		return KindLive, nil
	case "offline", "file", "savefile":
		return KindOffline, nil
	case "reader", "stream":
		return KindReader, nil
	case "afpacket", "af_packet", "af-packet", "tpacket":
		return KindAFPacket, nil
	case "rawsock", "raw", "socket":
		return KindRawSocket, nil
	case "loopback", "memory":
		return KindLoopback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for config decoding.
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Finite reports whether the kind reads from a bounded input.
func (k Kind) Finite() bool {
	return k == KindOffline || k == KindReader
}

// RemoteAuth carries credentials for remote capture sources.
type RemoteAuth struct {
	Username string
	Password string
}

// Options configure a backend at open time.
type Options struct {
	Source      string
	Kind        Kind
	SnapLen     int
	ReadTimeout time.Duration
	Promiscuous bool
	Monitor     bool
	Immediate   bool
	BufferSize  int
	Resolution  models.Resolution
	RemoteAuth  *RemoteAuth

	// Reader feeds KindReader sources.
	Reader io.Reader

	// Params holds backend-specific settings, decoded by each backend.
	Params map[string]interface{}
}

// Handler receives one frame. data is only valid for the duration of the call.
type Handler func(data []byte, ci gopacket.CaptureInfo)

// Driver is an open capture source. Implementations are not safe for
// concurrent use; callers serialize access. BreakLoop, and Send on a
// ConcurrentSender, are the exceptions.
type Driver interface {
	LinkType() layers.LinkType
	SetBPF(insns []bpf.RawInstruction) error

	// Dispatch reads up to max frames and hands each to fn. It returns the
	// number of frames handled. (0, nil) means the read timeout expired,
	// io.EOF means end of input, ErrBreak means BreakLoop was called.
	Dispatch(max int, fn Handler) (int, error)

	// Next reads a single frame. ErrTimeout means nothing arrived in time.
	Next() ([]byte, gopacket.CaptureInfo, error)

	Send(data []byte) error
	Stats() (models.Statistics, error)

	// BreakLoop makes the current or next Dispatch return early. It may be
	// called from any goroutine.
	BreakLoop()

	Close() error
}

// Selectable is implemented by drivers exposing a pollable descriptor.
type Selectable interface {
	Fd() int
}

// ConcurrentSender is implemented by drivers whose Send (and QueueTransmit)
// may run while Dispatch is blocked in a read on another goroutine.
type ConcurrentSender interface {
	ConcurrentSend() bool
}

// QueueTransmitter is implemented by drivers that replay a send buffer themselves.
type QueueTransmitter interface {
	QueueTransmit(buf []byte, layout codec.Layout, res models.Resolution, mode models.TransmitMode, pacer *replay.Pacer) (int, error)
}
