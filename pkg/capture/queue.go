package capture

import (
	"sync"

	"firestige.xyz/framecap/pkg/models"
)

// CaptureQueue collects frames from an arrival callback for a consumer on
// another goroutine. The lock is only held to append or to swap buffers.
type CaptureQueue struct {
	mu     sync.Mutex
	frames []*models.CapturedFrame
}

func NewCaptureQueue() *CaptureQueue {
	return &CaptureQueue{}
}

func (q *CaptureQueue) Push(frame *models.CapturedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append(q.frames, frame)
}

// Drain returns everything pushed since the last drain, oldest first, and
// leaves the queue empty. It returns nil when nothing is queued.
func (q *CaptureQueue) Drain() []*models.CapturedFrame {
	q.mu.Lock()
	drained := q.frames
	q.frames = nil
	q.mu.Unlock()
	return drained
}

func (q *CaptureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Attach registers Push as an arrival observer on h and returns the func
// removing it.
func (q *CaptureQueue) Attach(h *Handle) func() {
	return h.OnArrival(func(_ *Handle, f *models.CapturedFrame) {
		q.Push(f)
	})
}
