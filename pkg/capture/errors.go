package capture

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Every typed error below matches one of them with errors.Is.
var (
	ErrNotOpen          = errors.New("framecap: handle not open")
	ErrDriverOpen       = errors.New("framecap: driver open failed")
	ErrConcurrentAccess = errors.New("framecap: handle owned by a running capture loop")
	ErrUnsupported      = errors.New("framecap: operation not supported")
	ErrFilterCompile    = errors.New("framecap: filter compile failed")
	ErrTransmit         = errors.New("framecap: transmit failed")
	ErrStopTimeout      = errors.New("framecap: capture loop did not stop in time")

	ErrAlreadyRunning = errors.New("framecap: capture already running")
	ErrNoConsumer     = errors.New("framecap: no arrival consumer registered")
	ErrQueueDisposed  = errors.New("framecap: send queue disposed")
)

// NotOpenError is returned by every operation on a closed or poisoned handle.
type NotOpenError struct {
	Op string
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("framecap: %s: handle not open", e.Op)
}

func (e *NotOpenError) Is(target error) bool { return target == ErrNotOpen }

// DriverOpenError reports a source that could not be activated.
type DriverOpenError struct {
	Source string
	Kind   SourceKind
	Err    error
}

func (e *DriverOpenError) Error() string {
	return fmt.Sprintf("framecap: open %s source %q: %v", e.Kind, e.Source, e.Err)
}

func (e *DriverOpenError) Is(target error) bool { return target == ErrDriverOpen }
func (e *DriverOpenError) Unwrap() error        { return e.Err }

// ConcurrentAccessError is returned by a synchronous read while a loop runs.
type ConcurrentAccessError struct {
	Op string
}

func (e *ConcurrentAccessError) Error() string {
	return fmt.Sprintf("framecap: %s: handle owned by a running capture loop", e.Op)
}

func (e *ConcurrentAccessError) Is(target error) bool { return target == ErrConcurrentAccess }

// UnsupportedError is returned when the source kind has no such facility.
type UnsupportedError struct {
	Op   string
	Kind SourceKind
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("framecap: %s: not supported by %s sources", e.Op, e.Kind)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// FilterCompileError reports a bad expression or one the handle rejected.
type FilterCompileError struct {
	Expression string
	Err        error
}

func (e *FilterCompileError) Error() string {
	return fmt.Sprintf("framecap: filter %q: %v", e.Expression, e.Err)
}

func (e *FilterCompileError) Is(target error) bool { return target == ErrFilterCompile }
func (e *FilterCompileError) Unwrap() error        { return e.Err }

// TransmitError reports the first failed send. BytesSent counts the queue
// bytes consumed before the failure.
type TransmitError struct {
	Index     int
	BytesSent int
	Err       error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("framecap: transmit stopped at record %d after %d bytes: %v", e.Index, e.BytesSent, e.Err)
}

func (e *TransmitError) Is(target error) bool { return target == ErrTransmit }
func (e *TransmitError) Unwrap() error        { return e.Err }

// StopTimeoutError means the loop ignored a stop request. The handle is
// poisoned afterwards and must not be reused.
type StopTimeoutError struct {
	Source  string
	Timeout time.Duration
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("framecap: capture loop on %q did not stop within %s", e.Source, e.Timeout)
}

func (e *StopTimeoutError) Is(target error) bool { return target == ErrStopTimeout }
