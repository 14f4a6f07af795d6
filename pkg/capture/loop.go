package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/internal/metrics"
	"firestige.xyz/framecap/pkg/codec"
	"firestige.xyz/framecap/pkg/models"
)

type loopState int32

const (
	stateIdle loopState = iota
	stateRunning
	stateStopRequested
)

func (s loopState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopRequested:
		return "stop requested"
	default:
		return "unknown"
	}
}

// loopRun is one Start/exit cycle of the capture loop.
type loopRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	budget int
	goid   uint64
	owner  chan struct{}

	// set by Dispose while the run is still unwinding
	dispose bool
}

// LoopState reports idle, running or stop requested.
func (h *Handle) LoopState() string {
	return loopState(h.state.Load()).String()
}

// Running reports whether a capture loop currently owns the handle.
func (h *Handle) Running() bool {
	return loopState(h.state.Load()) != stateIdle
}

// StartCapture runs the capture loop on a new goroutine until StopCapture,
// Close or the end of a file or stream.
func (h *Handle) StartCapture() error {
	return h.StartCaptureCount(0)
}

// StartCaptureCount is StartCapture with a frame budget; count <= 0 means
// no budget.
func (h *Handle) StartCaptureCount(count int) error {
	run, err := h.begin(count, 0)
	if err != nil {
		return err
	}
	go func() {
		run.goid = goroutineID()
		close(run.owner)
		h.runLoop(run)
	}()
	return nil
}

// Capture runs the capture loop on the calling goroutine and returns once it
// exits. count <= 0 captures until the source ends or StopCapture is called.
// The exit status is also reported to stopped observers.
func (h *Handle) Capture(count int) (models.Status, error) {
	run, err := h.begin(count, goroutineID())
	if err != nil {
		return models.ErrorWhileCapturing, err
	}
	close(run.owner)
	return h.runLoop(run)
}

func (h *Handle) begin(count int, goid uint64) (*loopRun, error) {
	h.loopMu.Lock()
	defer h.loopMu.Unlock()
	if !h.guard.open() {
		return nil, &NotOpenError{Op: "start capture"}
	}
	if h.run != nil {
		return nil, ErrAlreadyRunning
	}
	if !h.hasConsumer() {
		return nil, ErrNoConsumer
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := &loopRun{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		budget: count,
		goid:   goid,
		owner:  make(chan struct{}),
	}
	h.run = run
	h.state.Store(int32(stateRunning))
	metrics.LoopsRunning.Inc()
	h.logger.WithField("budget", count).Info("capture loop started")
	return run, nil
}

func (h *Handle) runLoop(run *loopRun) (models.Status, error) {
	status, err := h.capture(run)
	run.cancel()

	h.loopMu.Lock()
	observers := h.stoppedObservers()
	dispose := run.dispose
	h.run = nil
	h.state.Store(int32(stateIdle))
	h.loopMu.Unlock()
	metrics.LoopsRunning.Dec()

	entry := h.logger.WithField("status", status.String())
	if err != nil {
		metrics.DispatchErrorsTotal.WithLabelValues(h.opts.Source).Inc()
		entry.WithError(err).Error("capture loop stopped")
	} else {
		entry.Info("capture loop stopped")
	}
	for _, o := range observers {
		o.fn(h, status, err)
	}
	if dispose {
		h.clearObservers()
	}
	close(run.done)
	return status, err
}

func (h *Handle) capture(run *loopRun) (models.Status, error) {
	remaining := run.budget
	for {
		if run.ctx.Err() != nil {
			return models.CompletedWithoutError, nil
		}
		max := h.opts.DispatchBatch
		if remaining > 0 && remaining < max {
			max = remaining
		}
		frames, err := h.dispatchOnce(max)
		delivered := h.deliver(run, frames)
		if remaining > 0 {
			remaining -= delivered
			if remaining <= 0 {
				return models.CompletedWithoutError, nil
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && h.opts.Kind.Finite():
			return models.CompletedWithoutError, nil
		case errors.Is(err, driver.ErrBreak):
			// a break left over from an earlier stop request is not ours
			if run.ctx.Err() != nil {
				return models.CompletedWithoutError, nil
			}
		case errors.Is(err, ErrNotOpen) && run.ctx.Err() != nil:
			return models.CompletedWithoutError, nil
		default:
			return models.ErrorWhileCapturing, err
		}
	}
}

// dispatchOnce waits for traffic when the source has a pollable descriptor
// and then reads up to max frames. Frames are copied out of driver memory
// before the guard is released.
func (h *Handle) dispatchOnce(max int) ([]*models.CapturedFrame, error) {
	var frames []*models.CapturedFrame
	err := h.guarded("dispatch", func(d driver.Driver) error {
		if sel, ok := d.(driver.Selectable); ok && canPoll {
			ready, err := waitReadable(sel.Fd(), h.opts.PollTimeout)
			if err != nil || !ready {
				return err
			}
		}
		h.callMu.Lock()
		defer h.callMu.Unlock()
		_, err := d.Dispatch(max, func(data []byte, ci gopacket.CaptureInfo) {
			frames = append(frames, codec.NewFrame(h.linkType, ci, data, h.opts.Resolution))
		})
		return err
	})
	return frames, err
}

// deliver hands frames to the arrival observers in order. It stops early once
// a stop was requested, which may happen from inside a callback.
func (h *Handle) deliver(run *loopRun, frames []*models.CapturedFrame) int {
	if len(frames) == 0 {
		return 0
	}
	n := 0
	for _, f := range frames {
		if run.ctx.Err() != nil {
			break
		}
		for _, o := range h.arrivalObservers() {
			o.fn(h, f)
		}
		n++
	}
	metrics.FramesCapturedTotal.WithLabelValues(h.opts.Source).Add(float64(n))
	return n
}

// StopCapture asks the loop to exit and waits up to the join timeout for it.
// Called from the loop's own goroutine, e.g. inside an arrival callback, it
// only requests the stop. A loop that does not exit in time poisons the
// handle and StopTimeoutError is returned.
func (h *Handle) StopCapture() error {
	h.loopMu.Lock()
	run := h.run
	if run == nil {
		h.loopMu.Unlock()
		return nil
	}
	h.state.Store(int32(stateStopRequested))
	h.loopMu.Unlock()

	run.cancel()
	_ = h.guarded("stop capture", func(d driver.Driver) error {
		d.BreakLoop()
		return nil
	})

	<-run.owner
	if run.goid == goroutineID() {
		return nil
	}

	timer := time.NewTimer(h.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case <-run.done:
		return nil
	case <-timer.C:
		h.guard.poison()
		metrics.StopTimeoutsTotal.Inc()
		h.logger.WithField("timeout", h.opts.JoinTimeout.String()).Error("capture loop ignored stop request, handle poisoned")
		return &StopTimeoutError{Source: h.opts.Source, Timeout: h.opts.JoinTimeout}
	}
}
