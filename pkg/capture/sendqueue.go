package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/framecap/internal/config"
	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/internal/metrics"
	"firestige.xyz/framecap/internal/replay"
	"firestige.xyz/framecap/pkg/codec"
	"firestige.xyz/framecap/pkg/models"
)

// SendQueue accumulates records in one fixed-capacity buffer and replays them
// through a handle. Records are laid out as the driver's native header
// followed by the payload.
type SendQueue struct {
	mu          sync.Mutex
	buf         []byte
	capacity    int
	count       int
	layout      codec.Layout
	res         models.Resolution
	pacer       *replay.Pacer
	accelerated bool
	disposed    bool
}

// NewSendQueue returns an empty queue holding at most capacity buffer bytes.
func NewSendQueue(capacity int) *SendQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &SendQueue{
		buf:         make([]byte, 0, capacity),
		capacity:    capacity,
		layout:      codec.NativeLayout,
		pacer:       replay.NewPacer(replay.DefaultSpinThreshold),
		accelerated: true,
	}
}

// NewSendQueueFromConfig sizes and tunes a queue from a transmit profile.
func NewSendQueueFromConfig(c config.TransmitConfig) *SendQueue {
	q := NewSendQueue(c.QueueSize)
	q.SetSpinThreshold(c.SpinThreshold)
	return q
}

// SetSpinThreshold sets the remaining wait below which Synchronized
// transmit stops sleeping and spins.
func (q *SendQueue) SetSpinThreshold(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pacer = replay.NewPacer(d)
}

// SetResolution selects the unit of the stored timestamp fraction. It can
// only change while the queue is empty.
func (q *SendQueue) SetResolution(res models.Resolution) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count > 0 {
		return fmt.Errorf("framecap: send queue holds %d records, resolution is fixed", q.count)
	}
	q.res = res
	return nil
}

// SetAccelerated toggles handing the whole buffer to drivers that can
// replay it themselves. It is on by default.
func (q *SendQueue) SetAccelerated(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.accelerated = on
}

// Add appends one record if header and payload fit in the remaining
// capacity. Otherwise the queue is left unchanged and false is returned.
// The capture length is taken from the payload.
func (q *SendQueue) Add(hdr codec.Header, payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	need := q.layout.Size() + len(payload)
	if q.disposed || need > q.capacity-len(q.buf) {
		metrics.SendQueueRejectsTotal.Inc()
		return false
	}
	hdr.Timestamp = hdr.Timestamp.Convert(q.res)
	hdr.CaptureLength = uint32(len(payload))
	if hdr.OriginalLength < hdr.CaptureLength {
		hdr.OriginalLength = hdr.CaptureLength
	}
	buf, err := q.layout.AppendHeader(q.buf, hdr)
	if err != nil {
		return false
	}
	q.buf = append(buf, payload...)
	q.count++
	return true
}

// AddFrame queues a captured frame with its original timestamp.
func (q *SendQueue) AddFrame(f *models.CapturedFrame) bool {
	return q.Add(codec.Header{
		Timestamp:      f.Timestamp,
		CaptureLength:  f.CaptureLength,
		OriginalLength: f.OriginalLength,
	}, f.Data)
}

// Len is the number of buffer bytes in use, headers included.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Cap is the fixed buffer capacity in bytes.
func (q *SendQueue) Cap() int {
	return q.capacity
}

// Count is the number of queued records.
func (q *SendQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dispose releases the buffer. Later Add calls fail and Transmit returns
// ErrQueueDisposed. Disposing twice does nothing.
func (q *SendQueue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	q.disposed = true
	q.buf = nil
	q.count = 0
}

// Transmit replays every record through h in buffer order and returns the
// buffer bytes sent. Normal mode sends back to back; Synchronized mode keeps
// each record's offset from the first one. The first failed send stops the
// replay with a TransmitError.
func (q *SendQueue) Transmit(h *Handle, mode models.TransmitMode) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return 0, ErrQueueDisposed
	}

	var sent int
	err := h.guarded("transmit", func(d driver.Driver) error {
		var err error
		concurrent := canSendConcurrently(d)
		if qt, ok := d.(driver.QueueTransmitter); ok && q.accelerated {
			if !concurrent {
				h.callMu.Lock()
				defer h.callMu.Unlock()
			}
			sent, err = qt.QueueTransmit(q.buf, q.layout, q.res, mode, q.pacer)
			return err
		}
		sent, err = replay.Replay(q.buf, q.layout, q.res, mode, q.pacer, func(payload []byte) error {
			if !concurrent {
				h.callMu.Lock()
				defer h.callMu.Unlock()
			}
			return d.Send(payload)
		})
		return err
	})
	metrics.TransmitBytesTotal.WithLabelValues(mode.String()).Add(float64(sent))
	if err == nil {
		return sent, nil
	}

	if errors.Is(err, ErrNotOpen) {
		return sent, err
	}
	metrics.TransmitFailuresTotal.WithLabelValues(mode.String()).Inc()
	if errors.Is(err, driver.ErrUnsupported) {
		return sent, &UnsupportedError{Op: "transmit", Kind: h.opts.Kind}
	}
	terr := &TransmitError{BytesSent: sent, Err: err}
	var serr *replay.SendError
	if errors.As(err, &serr) {
		terr.Index = serr.Index
		terr.Err = serr.Err
	}
	h.logger.WithError(terr.Err).WithField("index", terr.Index).WithField("sent", sent).Warn("send queue transmit stopped")
	return sent, terr
}
