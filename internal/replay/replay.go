package replay

import (
	"fmt"
	"time"

	"firestige.xyz/framecap/pkg/codec"
	"firestige.xyz/framecap/pkg/models"
)

// SendFunc puts one frame on the wire.
type SendFunc func(payload []byte) error

// SendError reports the record that failed to send.
type SendError struct {
	Index int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Replay sends every record in buf in buffer order and returns the number
// of buffer bytes (headers included) consumed by successful sends.
// In Synchronized mode the first record is the zero reference and each later
// record is held until its offset from the first has elapsed.
func Replay(buf []byte, layout codec.Layout, res models.Resolution, mode models.TransmitMode, pacer *Pacer, send SendFunc) (int, error) {
	if pacer == nil {
		pacer = NewPacer(DefaultSpinThreshold)
	}
	var (
		first models.Timestamp
		start time.Time
		sent  int
		index int
	)
	err := layout.Walk(buf, res, func(h codec.Header, payload []byte) error {
		if mode == models.Synchronized {
			if index == 0 {
				first = h.Timestamp
				start = time.Now()
			} else {
				pacer.WaitUntil(start.Add(h.Timestamp.Sub(first)))
			}
		}
		if err := send(payload); err != nil {
			return &SendError{Index: index, Err: err}
		}
		sent += layout.Size() + len(payload)
		index++
		return nil
	})
	return sent, err
}
