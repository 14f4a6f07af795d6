package codec

import "firestige.xyz/framecap/pkg/models"

// Walk iterates over a contiguous buffer of header+payload records,
// stopping at the first error returned by fn.
func (l Layout) Walk(buf []byte, res models.Resolution, fn func(h Header, payload []byte) error) error {
	size := l.Size()
	for off := 0; off < len(buf); {
		h, err := l.Decode(buf[off:], res)
		if err != nil {
			return err
		}
		off += size
		end := off + int(h.CaptureLength)
		if end > len(buf) {
			return ErrTruncatedBody
		}
		if err := fn(h, buf[off:end]); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// Count returns the number of whole records in buf.
func (l Layout) Count(buf []byte) int {
	n := 0
	_ = l.Walk(buf, models.Microsecond, func(Header, []byte) error {
		n++
		return nil
	})
	return n
}
