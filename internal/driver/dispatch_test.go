package driver

import (
	"errors"
	"io"
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/internal/filter"
)

// scriptedRead replays results in order, then returns io.EOF.
type scriptedRead struct {
	steps []error
	pos   int
}

func (s *scriptedRead) read() ([]byte, gopacket.CaptureInfo, error) {
	if s.pos >= len(s.steps) {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	err := s.steps[s.pos]
	s.pos++
	if err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	return []byte{byte(s.pos)}, gopacket.CaptureInfo{CaptureLength: 1, Length: 1}, nil
}

func newScripted(steps ...error) *dispatcher {
	s := &scriptedRead{steps: steps}
	return &dispatcher{read: s.read}
}

func collect(d *dispatcher, max int) ([]byte, int, error) {
	var got []byte
	n, err := d.Dispatch(max, func(data []byte, _ gopacket.CaptureInfo) {
		got = append(got, data[0])
	})
	return got, n, err
}

func TestDispatchHonoursMax(t *testing.T) {
	d := newScripted(nil, nil, nil, nil, nil)

	got, n, err := collect(d, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got, n, err = collect(d, 3)
	require.NoError(t, err, "EOF after frames is held back")
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{4, 5}, got)

	_, n, err = collect(d, 3)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestDispatchTimeoutIsNotAnError(t *testing.T) {
	d := newScripted(nil, ErrTimeout, nil)

	_, n, err := collect(d, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, n, err = collect(d, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchBreak(t *testing.T) {
	d := newScripted(nil, nil)
	d.BreakLoop()

	_, n, err := collect(d, 10)
	assert.ErrorIs(t, err, ErrBreak)
	assert.Zero(t, n)

	_, n, err = collect(d, 10)
	require.NoError(t, err, "the break flag is consumed")
	assert.Equal(t, 2, n)
}

func TestDispatchBreakAfterFrames(t *testing.T) {
	d := newScripted(nil, nil, nil)
	n, err := d.Dispatch(10, func([]byte, gopacket.CaptureInfo) {
		d.BreakLoop()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	d := newScripted(nil, boom)

	_, n, err := collect(d, 10)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestNextSkipsRejectedFrames(t *testing.T) {
	// accept only frames whose first byte is 3
	insns, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 0, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 3, SkipFalse: 1},
		bpf.RetConstant{Val: 65535},
		bpf.RetConstant{Val: 0},
	})
	require.NoError(t, err)
	m, err := filter.NewMatcher(insns)
	require.NoError(t, err)

	d := newScripted(nil, nil, nil, nil)
	d.setMatcher(m)

	data, _, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, data)

	_, _, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func rejectAll(t *testing.T) *filter.Matcher {
	t.Helper()
	insns, err := bpf.Assemble([]bpf.Instruction{bpf.RetConstant{Val: 0}})
	require.NoError(t, err)
	m, err := filter.NewMatcher(insns)
	require.NoError(t, err)
	return m
}

// endless never runs dry; every frame is one zero byte.
func endless(d *dispatcher, onRead func(n int)) {
	n := 0
	d.read = func() ([]byte, gopacket.CaptureInfo, error) {
		n++
		if onRead != nil {
			onRead(n)
		}
		return []byte{0}, gopacket.CaptureInfo{CaptureLength: 1, Length: 1}, nil
	}
}

func TestDispatchBoundsRejectedFrames(t *testing.T) {
	d := &dispatcher{}
	reads := 0
	endless(d, func(n int) { reads = n })
	d.setMatcher(rejectAll(t))

	_, n, err := collect(d, 10)
	require.NoError(t, err, "a run of rejected frames reads as a timeout")
	assert.Zero(t, n)
	assert.Equal(t, maxSkip+1, reads)

	_, _, err = d.Next()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBreakInterruptsRejectedFrames(t *testing.T) {
	d := &dispatcher{}
	reads := 0
	endless(d, func(n int) {
		reads = n
		if n == 10 {
			d.BreakLoop()
		}
	})
	d.setMatcher(rejectAll(t))

	_, n, err := collect(d, 10)
	assert.ErrorIs(t, err, ErrBreak)
	assert.Zero(t, n)
	assert.Equal(t, 10, reads)
}

func TestNextTreatsBreakAsTimeout(t *testing.T) {
	d := &dispatcher{}
	endless(d, func(int) { d.BreakLoop() })
	d.setMatcher(rejectAll(t))

	_, _, err := d.Next()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, d.broken.Load(), "the break was consumed")
}
