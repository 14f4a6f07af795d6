package driver

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/gopacket"

	"firestige.xyz/framecap/internal/filter"
)

// readFunc reads a single frame, returning ErrTimeout when nothing arrived.
type readFunc func() ([]byte, gopacket.CaptureInfo, error)

// dispatcher builds Dispatch, Next and BreakLoop on top of a single-frame
// reader. When a matcher is installed, frames it rejects are skipped.
type dispatcher struct {
	read    readFunc
	matcher atomic.Pointer[filter.Matcher]
	broken  atomic.Bool
}

func (d *dispatcher) BreakLoop() {
	d.broken.Store(true)
}

func (d *dispatcher) setMatcher(m *filter.Matcher) {
	d.matcher.Store(m)
}

// maxSkip bounds the frames one read may discard before it reports a timeout
// so the caller gets to look at its stop conditions.
const maxSkip = 1024

// Next reads one frame the matcher accepts. A read that only saw rejected
// frames reports ErrTimeout.
func (d *dispatcher) Next() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := d.nextMatch()
	if errors.Is(err, ErrBreak) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

func (d *dispatcher) nextMatch() ([]byte, gopacket.CaptureInfo, error) {
	for skipped := 0; ; skipped++ {
		data, ci, err := d.read()
		if err != nil {
			return nil, ci, err
		}
		if d.matcher.Load().Match(data) {
			return data, ci, nil
		}
		if d.broken.CompareAndSwap(true, false) {
			return nil, ci, ErrBreak
		}
		if skipped >= maxSkip {
			return nil, ci, ErrTimeout
		}
	}
}

func (d *dispatcher) Dispatch(max int, fn Handler) (int, error) {
	if max <= 0 {
		max = DefaultBatch
	}
	n := 0
	for n < max {
		if d.broken.CompareAndSwap(true, false) {
			if n > 0 {
				return n, nil
			}
			return 0, ErrBreak
		}
		data, ci, err := d.nextMatch()
		switch {
		case err == nil:
			fn(data, ci)
			n++
		case errors.Is(err, ErrBreak) && n > 0:
			return n, nil
		case errors.Is(err, ErrTimeout):
			return n, nil
		case errors.Is(err, io.EOF) && n > 0:
			// the source keeps reporting EOF, the next call surfaces it
			return n, nil
		default:
			return n, err
		}
	}
	return n, nil
}
