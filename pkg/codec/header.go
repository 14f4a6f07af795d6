// Package codec converts between the driver's per-packet record header and
// platform-independent frame metadata.
package codec

import (
	"encoding/binary"
	"errors"
	"runtime"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/framecap/pkg/models"
)

var (
	ErrShortBuffer   = errors.New("framecap: record header buffer too short")
	ErrBadLayout     = errors.New("framecap: timeval width must be 4 or 8")
	ErrTruncatedBody = errors.New("framecap: record payload shorter than capture length")
)

// Layout describes how a record header is laid out in memory:
// seconds and fraction of width TimevalWidth, then caplen and len as uint32.
type Layout struct {
	TimevalWidth int
	Order        binary.ByteOrder
}

// NativeLayout matches the driver's header on the running platform.
// timeval fields are C longs, which are 32 bits on windows and 32-bit targets.
var NativeLayout = Layout{TimevalWidth: nativeTimevalWidth(), Order: binary.NativeEndian}

func nativeTimevalWidth() int {
	if runtime.GOOS == "windows" || strconv.IntSize == 32 {
		return 4
	}
	return 8
}

// Size is the encoded header length in bytes.
func (l Layout) Size() int {
	return 2*l.TimevalWidth + 8
}

func (l Layout) valid() error {
	if l.TimevalWidth != 4 && l.TimevalWidth != 8 {
		return ErrBadLayout
	}
	if l.Order == nil {
		return ErrBadLayout
	}
	return nil
}

// Header is the decoded form of one record header.
type Header struct {
	Timestamp      models.Timestamp
	CaptureLength  uint32
	OriginalLength uint32
}

// FromCaptureInfo converts gopacket metadata, truncating the timestamp to res.
func FromCaptureInfo(ci gopacket.CaptureInfo, res models.Resolution) Header {
	return Header{
		Timestamp:      models.TimestampFromTime(ci.Timestamp, res),
		CaptureLength:  uint32(ci.CaptureLength),
		OriginalLength: uint32(ci.Length),
	}
}

// Encode writes h into dst, which must hold at least l.Size() bytes.
func (l Layout) Encode(dst []byte, h Header) error {
	if err := l.valid(); err != nil {
		return err
	}
	if len(dst) < l.Size() {
		return ErrShortBuffer
	}
	w := l.TimevalWidth
	if w == 8 {
		l.Order.PutUint64(dst[0:8], uint64(h.Timestamp.Seconds))
		l.Order.PutUint64(dst[8:16], uint64(h.Timestamp.Fraction))
	} else {
		l.Order.PutUint32(dst[0:4], uint32(h.Timestamp.Seconds))
		l.Order.PutUint32(dst[4:8], h.Timestamp.Fraction)
	}
	l.Order.PutUint32(dst[2*w:2*w+4], h.CaptureLength)
	l.Order.PutUint32(dst[2*w+4:2*w+8], h.OriginalLength)
	return nil
}

// AppendHeader appends the encoded header to dst.
func (l Layout) AppendHeader(dst []byte, h Header) ([]byte, error) {
	n := len(dst)
	dst = append(dst, make([]byte, l.Size())...)
	if err := l.Encode(dst[n:], h); err != nil {
		return dst[:n], err
	}
	return dst, nil
}

// Decode reads a header from src. The raw fraction is interpreted in res.
func (l Layout) Decode(src []byte, res models.Resolution) (Header, error) {
	if err := l.valid(); err != nil {
		return Header{}, err
	}
	if len(src) < l.Size() {
		return Header{}, ErrShortBuffer
	}
	var h Header
	w := l.TimevalWidth
	if w == 8 {
		h.Timestamp.Seconds = int64(l.Order.Uint64(src[0:8]))
		h.Timestamp.Fraction = uint32(l.Order.Uint64(src[8:16]))
	} else {
		h.Timestamp.Seconds = int64(int32(l.Order.Uint32(src[0:4])))
		h.Timestamp.Fraction = l.Order.Uint32(src[4:8])
	}
	h.Timestamp.Resolution = res
	h.CaptureLength = l.Order.Uint32(src[2*w : 2*w+4])
	h.OriginalLength = l.Order.Uint32(src[2*w+4 : 2*w+8])
	return h, nil
}

// NewFrame builds an immutable frame from driver output. data is copied
// and cut to the capture length.
func NewFrame(linkType layers.LinkType, ci gopacket.CaptureInfo, data []byte, res models.Resolution) *models.CapturedFrame {
	h := FromCaptureInfo(ci, res)
	if int(h.CaptureLength) > len(data) || h.CaptureLength == 0 {
		h.CaptureLength = uint32(len(data))
	}
	if h.OriginalLength < h.CaptureLength {
		h.OriginalLength = h.CaptureLength
	}
	payload := make([]byte, h.CaptureLength)
	copy(payload, data)
	return &models.CapturedFrame{
		LinkType:       linkType,
		Timestamp:      h.Timestamp,
		CaptureLength:  h.CaptureLength,
		OriginalLength: h.OriginalLength,
		Data:           payload,
	}
}
