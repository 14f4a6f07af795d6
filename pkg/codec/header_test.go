package codec

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/framecap/pkg/models"
)

func TestLayoutSize(t *testing.T) {
	assert.Equal(t, 16, Layout{TimevalWidth: 4, Order: binary.LittleEndian}.Size())
	assert.Equal(t, 24, Layout{TimevalWidth: 8, Order: binary.LittleEndian}.Size())
	assert.Contains(t, []int{16, 24}, NativeLayout.Size())
}

func TestEncodeWideLayout(t *testing.T) {
	l := Layout{TimevalWidth: 8, Order: binary.LittleEndian}
	h := Header{
		Timestamp:      models.Timestamp{Seconds: 0x01020304, Fraction: 500000, Resolution: models.Microsecond},
		CaptureLength:  60,
		OriginalLength: 1514,
	}
	buf := make([]byte, l.Size())
	require.NoError(t, l.Encode(buf, h))

	assert.Equal(t, uint64(0x01020304), binary.LittleEndian.Uint64(buf[0:8]))
	assert.Equal(t, uint64(500000), binary.LittleEndian.Uint64(buf[8:16]))
	assert.Equal(t, uint32(60), binary.LittleEndian.Uint32(buf[16:20]))
	assert.Equal(t, uint32(1514), binary.LittleEndian.Uint32(buf[20:24]))

	got, err := l.Decode(buf, models.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestNarrowLayoutKeepsNegativeSeconds(t *testing.T) {
	l := Layout{TimevalWidth: 4, Order: binary.BigEndian}
	h := Header{Timestamp: models.Timestamp{Seconds: -5, Fraction: 7, Resolution: models.Nanosecond}, CaptureLength: 1, OriginalLength: 1}

	buf, err := l.AppendHeader([]byte{0xaa}, h)
	require.NoError(t, err)
	require.Len(t, buf, 1+l.Size())
	assert.Equal(t, byte(0xaa), buf[0])

	got, err := l.Decode(buf[1:], models.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), got.Timestamp.Seconds)
	assert.Equal(t, uint32(7), got.Timestamp.Fraction)
}

func TestLayoutErrors(t *testing.T) {
	bad := Layout{TimevalWidth: 6, Order: binary.LittleEndian}
	assert.ErrorIs(t, bad.Encode(make([]byte, 64), Header{}), ErrBadLayout)
	_, err := Layout{TimevalWidth: 8}.Decode(make([]byte, 64), models.Microsecond)
	assert.ErrorIs(t, err, ErrBadLayout)

	assert.ErrorIs(t, NativeLayout.Encode(make([]byte, 3), Header{}), ErrShortBuffer)
	_, err = NativeLayout.Decode(make([]byte, 3), models.Microsecond)
	assert.ErrorIs(t, err, ErrShortBuffer)

	out, err := bad.AppendHeader([]byte{1, 2}, Header{})
	assert.Error(t, err)
	assert.Equal(t, []byte{1, 2}, out, "failed append leaves dst as it was")
}

func TestNewFrameCopiesAndClamps(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 1500),
		CaptureLength: 4,
		Length:        2,
	}
	f := NewFrame(layers.LinkTypeEthernet, ci, data, models.Nanosecond)

	assert.Equal(t, []byte{1, 2, 3, 4}, f.Data)
	assert.Equal(t, uint32(4), f.CaptureLength)
	assert.Equal(t, uint32(4), f.OriginalLength, "original length never drops below caplen")
	assert.Equal(t, uint32(1500), f.Timestamp.Fraction)

	data[0] = 0xff
	assert.Equal(t, byte(1), f.Data[0], "frame owns its payload")

	f = NewFrame(layers.LinkTypeEthernet, gopacket.CaptureInfo{CaptureLength: 99, Length: 99}, data[:3], models.Microsecond)
	assert.Equal(t, uint32(3), f.CaptureLength)
	assert.Len(t, f.Data, 3)
}

func TestFromCaptureInfo(t *testing.T) {
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(10, 2999), CaptureLength: 64, Length: 128}
	h := FromCaptureInfo(ci, models.Microsecond)
	assert.Equal(t, models.Timestamp{Seconds: 10, Fraction: 2, Resolution: models.Microsecond}, h.Timestamp)
	assert.Equal(t, uint32(64), h.CaptureLength)
	assert.Equal(t, uint32(128), h.OriginalLength)
}

func TestWalkRecords(t *testing.T) {
	l := NativeLayout
	var buf []byte
	var err error
	for i := 0; i < 3; i++ {
		payload := make([]byte, 10+i)
		buf, err = l.AppendHeader(buf, Header{
			Timestamp:     models.Timestamp{Seconds: int64(i)},
			CaptureLength: uint32(len(payload)),
		})
		require.NoError(t, err)
		buf = append(buf, payload...)
	}
	assert.Equal(t, 3, l.Count(buf))

	var lens []int
	require.NoError(t, l.Walk(buf, models.Microsecond, func(h Header, payload []byte) error {
		assert.Equal(t, int(h.CaptureLength), len(payload))
		lens = append(lens, len(payload))
		return nil
	}))
	assert.Equal(t, []int{10, 11, 12}, lens)

	err = l.Walk(buf[:len(buf)-1], models.Microsecond, func(Header, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrTruncatedBody)
	assert.Equal(t, 2, l.Count(buf[:len(buf)-1]))
}
