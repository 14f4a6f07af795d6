// Package capture exposes capture sources as handles: open a source, attach a
// filter, receive frames from a background loop and replay them through a
// send queue.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/layers"

	"firestige.xyz/framecap/internal/config"
	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/internal/filter"
	"firestige.xyz/framecap/internal/log"
	"firestige.xyz/framecap/pkg/codec"
	"firestige.xyz/framecap/pkg/models"
)

// ArrivalFunc receives every frame the loop delivers, in arrival order.
type ArrivalFunc func(h *Handle, frame *models.CapturedFrame)

// StoppedFunc is called once each time a capture loop exits. err is the
// driver error when status is ErrorWhileCapturing.
type StoppedFunc func(h *Handle, status models.Status, err error)

type arrivalEntry struct {
	id uint64
	fn ArrivalFunc
}

type stoppedEntry struct {
	id uint64
	fn StoppedFunc
}

// Handle owns one open capture source.
//
// Every call into the source goes through a guard. Close waits for calls in
// flight and later calls fail with NotOpenError, so a handle may be closed
// or disposed from any goroutine, including its own arrival callbacks.
type Handle struct {
	opts     Options
	drv      driver.Driver
	linkType layers.LinkType
	logger   log.Logger

	guard  *guard
	callMu sync.Mutex

	filterMu   sync.Mutex
	filterExpr string

	obsMu   sync.RWMutex
	nextID  uint64
	arrival []arrivalEntry
	stopped []stoppedEntry

	loopMu sync.Mutex
	run    *loopRun
	state  atomic.Int32

	disposeOnce sync.Once
}

// Open activates the source described by opts.
func Open(opts Options) (*Handle, error) {
	opts.applyDefaults()
	drv, err := driver.Open(opts.driverOptions())
	if err != nil {
		return nil, &DriverOpenError{Source: opts.Source, Kind: opts.Kind, Err: err}
	}
	h := &Handle{
		opts:     opts,
		drv:      drv,
		linkType: drv.LinkType(),
		guard:    newGuard(),
		logger:   log.GetLogger().WithField("source", opts.Source).WithField("kind", string(opts.Kind)),
	}
	if opts.Filter != "" {
		if err := h.SetFilter(opts.Filter); err != nil {
			h.guard.close()
			_ = drv.Close()
			return nil, err
		}
	}
	h.logger.WithField("linktype", h.linkType.String()).WithField("snaplen", opts.SnapLen).Info("capture handle opened")
	return h, nil
}

// OpenLive opens a network device through the native driver.
func OpenLive(device string, snapLen int, promiscuous bool) (*Handle, error) {
	return Open(Options{Source: device, Kind: KindLive, SnapLen: snapLen, Promiscuous: promiscuous})
}

// OpenOffline opens a capture file.
func OpenOffline(path string) (*Handle, error) {
	return Open(Options{Source: path, Kind: KindOffline})
}

// OpenReader reads a pcap or pcapng stream from r. With closeOnDispose set,
// Dispose closes r if it is an io.Closer.
func OpenReader(r io.Reader, closeOnDispose bool) (*Handle, error) {
	return Open(Options{Source: "reader", Kind: KindReader, Reader: r, CloseReader: closeOnDispose})
}

// FromConfig opens the source described by a capture profile section.
func FromConfig(c config.CaptureConfig) (*Handle, error) {
	return Open(OptionsFromConfig(c))
}

// guarded runs fn while holding a slot in the guard.
func (h *Handle) guarded(op string, fn func(d driver.Driver) error) error {
	if !h.guard.enter() {
		return &NotOpenError{Op: op}
	}
	defer h.guard.leave()
	return fn(h.drv)
}

// call is guarded and also serializes fn with every other driver call.
func (h *Handle) call(op string, fn func(d driver.Driver) error) error {
	return h.guarded(op, func(d driver.Driver) error {
		h.callMu.Lock()
		defer h.callMu.Unlock()
		return fn(d)
	})
}

// sendCall is guarded like call, but skips the call mutex when the driver
// can send while a capture loop is blocked in Dispatch.
func (h *Handle) sendCall(op string, fn func(d driver.Driver) error) error {
	return h.guarded(op, func(d driver.Driver) error {
		if canSendConcurrently(d) {
			return fn(d)
		}
		h.callMu.Lock()
		defer h.callMu.Unlock()
		return fn(d)
	})
}

func canSendConcurrently(d driver.Driver) bool {
	cs, ok := d.(driver.ConcurrentSender)
	return ok && cs.ConcurrentSend()
}

// IsOpen reports whether the handle still accepts calls.
func (h *Handle) IsOpen() bool {
	return h.guard.open()
}

// LinkType is the link type cached at open time.
func (h *Handle) LinkType() layers.LinkType { return h.linkType }

// SnapLen is the snapshot length the source was opened with.
func (h *Handle) SnapLen() int { return h.opts.SnapLen }

// Kind is the backend kind serving the handle.
func (h *Handle) Kind() SourceKind { return h.opts.Kind }

// Source names the device, file or segment the handle was opened on.
func (h *Handle) Source() string { return h.opts.Source }

// Close stops a running capture loop and releases the source. Closing a
// closed handle does nothing. A poisoned handle is never released.
func (h *Handle) Close() error {
	if h.guard.isPoisoned() {
		return nil
	}
	if err := h.StopCapture(); err != nil {
		return err
	}
	if !h.guard.close() {
		return nil
	}
	err := h.drv.Close()
	if err != nil {
		h.logger.WithError(err).Warn("capture source close failed")
	} else {
		h.logger.Info("capture handle closed")
	}
	return err
}

// Dispose closes the handle, drops every observer and closes a reader the
// handle was told to own.
func (h *Handle) Dispose() error {
	err := h.Close()
	h.disposeOnce.Do(func() {
		h.loopMu.Lock()
		if h.run != nil {
			// the loop drops the observers once its stop notification is out
			h.run.dispose = true
		} else {
			h.clearObservers()
		}
		h.loopMu.Unlock()
		if h.opts.CloseReader {
			if c, ok := h.opts.Reader.(io.Closer); ok {
				if cerr := c.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}
		}
	})
	return err
}

// SetFilter compiles expr against the handle's link type and installs it.
// The compiled program is released whether or not installation succeeds.
func (h *Handle) SetFilter(expr string) error {
	if !h.guard.open() {
		return &NotOpenError{Op: "set filter"}
	}
	prog, err := filter.Compile(expr, h.linkType, h.opts.SnapLen)
	if err != nil {
		return &FilterCompileError{Expression: expr, Err: err}
	}
	defer prog.Release()

	insns, err := prog.Instructions()
	if err != nil {
		return &FilterCompileError{Expression: expr, Err: err}
	}
	err = h.call("set filter", func(d driver.Driver) error {
		return d.SetBPF(insns)
	})
	var notOpen *NotOpenError
	if errors.As(err, &notOpen) {
		return err
	}
	if err != nil {
		return &FilterCompileError{Expression: expr, Err: err}
	}

	h.filterMu.Lock()
	h.filterExpr = expr
	h.filterMu.Unlock()
	h.logger.WithField("filter", expr).WithField("insns", prog.Len()).Debug("filter installed")
	return nil
}

// Filter returns the expression last installed by SetFilter.
func (h *Handle) Filter() string {
	h.filterMu.Lock()
	defer h.filterMu.Unlock()
	return h.filterExpr
}

// Statistics reports the driver's counters. File and reader sources have
// none and return UnsupportedError.
func (h *Handle) Statistics() (models.Statistics, error) {
	if !h.guard.open() {
		return models.Statistics{}, &NotOpenError{Op: "statistics"}
	}
	if h.opts.Kind.Finite() {
		return models.Statistics{}, &UnsupportedError{Op: "statistics", Kind: h.opts.Kind}
	}
	var st models.Statistics
	err := h.call("statistics", func(d driver.Driver) error {
		var err error
		st, err = d.Stats()
		return err
	})
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, driver.ErrUnsupported):
		return models.Statistics{}, &UnsupportedError{Op: "statistics", Kind: h.opts.Kind}
	case errors.Is(err, ErrNotOpen):
		return models.Statistics{}, err
	default:
		return models.Statistics{}, fmt.Errorf("framecap: statistics: %w", err)
	}
}

// GetNextFrame reads one frame synchronously. It returns (nil, nil) when the
// read timeout expires and io.EOF at the end of a file or stream. It fails
// with ConcurrentAccessError while a capture loop owns the handle.
func (h *Handle) GetNextFrame() (*models.CapturedFrame, error) {
	h.loopMu.Lock()
	defer h.loopMu.Unlock()
	if loopState(h.state.Load()) != stateIdle {
		return nil, &ConcurrentAccessError{Op: "get next frame"}
	}

	var frame *models.CapturedFrame
	err := h.call("get next frame", func(d driver.Driver) error {
		data, ci, err := d.Next()
		if err != nil {
			return err
		}
		frame = codec.NewFrame(h.linkType, ci, data, h.opts.Resolution)
		return nil
	})
	switch {
	case err == nil:
		return frame, nil
	case errors.Is(err, driver.ErrTimeout):
		return nil, nil
	case errors.Is(err, io.EOF), errors.Is(err, ErrNotOpen):
		return nil, err
	default:
		return nil, fmt.Errorf("framecap: get next frame: %w", err)
	}
}

// Send injects one raw frame.
func (h *Handle) Send(data []byte) error {
	err := h.sendCall("send", func(d driver.Driver) error {
		return d.Send(data)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotOpen):
		return err
	case errors.Is(err, driver.ErrUnsupported):
		return &UnsupportedError{Op: "send", Kind: h.opts.Kind}
	default:
		return &TransmitError{Err: err}
	}
}

// OnArrival registers fn for frame arrivals and returns a func removing it.
func (h *Handle) OnArrival(fn ArrivalFunc) (remove func()) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	h.nextID++
	id := h.nextID
	h.arrival = append(h.arrival, arrivalEntry{id: id, fn: fn})
	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		for i, e := range h.arrival {
			if e.id == id {
				h.arrival = append(h.arrival[:i:i], h.arrival[i+1:]...)
				return
			}
		}
	}
}

// OnStopped registers fn for loop exits and returns a func removing it.
func (h *Handle) OnStopped(fn StoppedFunc) (remove func()) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	h.nextID++
	id := h.nextID
	h.stopped = append(h.stopped, stoppedEntry{id: id, fn: fn})
	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		for i, e := range h.stopped {
			if e.id == id {
				h.stopped = append(h.stopped[:i:i], h.stopped[i+1:]...)
				return
			}
		}
	}
}

func (h *Handle) arrivalObservers() []arrivalEntry {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	return h.arrival
}

func (h *Handle) stoppedObservers() []stoppedEntry {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	return h.stopped
}

func (h *Handle) hasConsumer() bool {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	return len(h.arrival) > 0
}

func (h *Handle) clearObservers() {
	h.obsMu.Lock()
	h.arrival = nil
	h.stopped = nil
	h.obsMu.Unlock()
}

// Frames adapts arrival notifications to a channel. The channel is closed
// when the next capture run stops. A full channel blocks the loop until the
// returned cancel func is called.
func (h *Handle) Frames(buffer int) (<-chan *models.CapturedFrame, func()) {
	ch := make(chan *models.CapturedFrame, buffer)
	quit := make(chan struct{})
	var (
		quitOnce sync.Once
		stopOnce sync.Once
		offArr   func()
		offStop  func()
	)
	cancel := func() {
		quitOnce.Do(func() { close(quit) })
	}
	offArr = h.OnArrival(func(_ *Handle, f *models.CapturedFrame) {
		select {
		case ch <- f:
		case <-quit:
		}
	})
	offStop = h.OnStopped(func(*Handle, models.Status, error) {
		stopOnce.Do(func() {
			offArr()
			offStop()
			close(ch)
		})
	})
	return ch, cancel
}
