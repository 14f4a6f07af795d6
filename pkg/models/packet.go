// Package models defines the frame and statistics types shared by the capture API.
package models

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// CapturedFrame is a single frame delivered by a capture handle.
// It is immutable once built; Data is owned by the frame, not by the driver.
type CapturedFrame struct {
	LinkType       layers.LinkType
	Timestamp      Timestamp
	CaptureLength  uint32 // bytes present in Data
	OriginalLength uint32 // length of the frame on the wire
	Data           []byte
}

// Truncated reports whether the frame was cut by the snapshot length.
func (f *CapturedFrame) Truncated() bool {
	return f.CaptureLength < f.OriginalLength
}

// CaptureInfo converts the frame metadata back to gopacket's representation.
func (f *CapturedFrame) CaptureInfo() gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     f.Timestamp.Time(),
		CaptureLength: int(f.CaptureLength),
		Length:        int(f.OriginalLength),
	}
}

// Packet decodes the frame with gopacket. Decoding is left to the caller.
func (f *CapturedFrame) Packet() gopacket.Packet {
	p := gopacket.NewPacket(f.Data, f.LinkType, gopacket.NoCopy)
	md := p.Metadata()
	md.CaptureInfo = f.CaptureInfo()
	return p
}

func (f *CapturedFrame) String() string {
	return fmt.Sprintf("%s caplen=%d len=%d linktype=%s", f.Timestamp, f.CaptureLength, f.OriginalLength, f.LinkType)
}

// Statistics holds the counters reported by a live capture source.
type Statistics struct {
	Received         uint32
	Dropped          uint32
	InterfaceDropped uint32
}

// Status is reported once per capture loop run when the loop exits.
type Status int

const (
	CompletedWithoutError Status = iota
	ErrorWhileCapturing
)

func (s Status) String() string {
	switch s {
	case CompletedWithoutError:
		return "completed"
	case ErrorWhileCapturing:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TransmitMode selects how a send queue is replayed.
type TransmitMode int

const (
	// Normal sends records back-to-back.
	Normal TransmitMode = iota
	// Synchronized paces records by their timestamps relative to the first record.
	Synchronized
)

func ParseTransmitMode(s string) (TransmitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return Normal, nil
	case "sync", "synchronized", "synchronised":
		return Synchronized, nil
	default:
		return Normal, fmt.Errorf("unknown transmit mode: %q", s)
	}
}

func (m *TransmitMode) UnmarshalText(text []byte) error {
	v, err := ParseTransmitMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m TransmitMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m TransmitMode) String() string {
	if m == Synchronized {
		return "synchronized"
	}
	return "normal"
}
