package models

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the unit of Timestamp.Fraction.
type Resolution uint8

const (
	Microsecond Resolution = iota
	Nanosecond
)

// ParseResolution accepts "us", "micro", "microsecond", "ns", "nano", "nanosecond".
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "us", "micro", "microsecond", "microseconds":
		return Microsecond, nil
	case "ns", "nano", "nanosecond", "nanoseconds":
		return Nanosecond, nil
	default:
		return Microsecond, fmt.Errorf("unknown timestamp resolution: %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for config decoding.
func (r *Resolution) UnmarshalText(text []byte) error {
	v, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r Resolution) String() string {
	if r == Nanosecond {
		return "nanosecond"
	}
	return "microsecond"
}

// Units returns how many fraction units make one second.
func (r Resolution) Units() uint32 {
	if r == Nanosecond {
		return 1e9
	}
	return 1e6
}

// Timestamp is a seconds + fraction pair tagged with its resolution.
type Timestamp struct {
	Seconds    int64
	Fraction   uint32
	Resolution Resolution
}

// TimestampFromTime truncates t to the given resolution.
func TimestampFromTime(t time.Time, res Resolution) Timestamp {
	ns := uint32(t.Nanosecond())
	if res == Microsecond {
		ns /= 1000
	}
	return Timestamp{Seconds: t.Unix(), Fraction: ns, Resolution: res}
}

// Nanoseconds returns the sub-second part in nanoseconds.
func (t Timestamp) Nanoseconds() int64 {
	if t.Resolution == Nanosecond {
		return int64(t.Fraction)
	}
	return int64(t.Fraction) * 1000
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, t.Nanoseconds())
}

// Sub returns t-u. Both operands may use different resolutions.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t.Seconds-u.Seconds)*time.Second + time.Duration(t.Nanoseconds()-u.Nanoseconds())
}

// Convert re-expresses t in res. Converting to microseconds truncates.
func (t Timestamp) Convert(res Resolution) Timestamp {
	switch {
	case t.Resolution == res:
		return t
	case res == Nanosecond:
		return Timestamp{Seconds: t.Seconds, Fraction: t.Fraction * 1000, Resolution: Nanosecond}
	default:
		return Timestamp{Seconds: t.Seconds, Fraction: t.Fraction / 1000, Resolution: Microsecond}
	}
}

func (t Timestamp) String() string {
	if t.Resolution == Nanosecond {
		return fmt.Sprintf("%d.%09d", t.Seconds, t.Fraction)
	}
	return fmt.Sprintf("%d.%06d", t.Seconds, t.Fraction)
}
