package capture

import (
	"io"
	"time"

	"firestige.xyz/framecap/internal/config"
	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/pkg/models"
)

// SourceKind selects the capture backend.
type SourceKind = driver.Kind

const (
	KindLive      = driver.KindLive
	KindOffline   = driver.KindOffline
	KindReader    = driver.KindReader
	KindAFPacket  = driver.KindAFPacket
	KindRawSocket = driver.KindRawSocket
	KindLoopback  = driver.KindLoopback
)

// RemoteAuth carries credentials for remote capture sources.
type RemoteAuth = driver.RemoteAuth

const (
	DefaultJoinTimeout = 2 * time.Second
	DefaultPollTimeout = 200 * time.Millisecond
)

// Options configure Open.
type Options struct {
	Source      string
	Kind        SourceKind
	SnapLen     int
	ReadTimeout time.Duration
	Promiscuous bool
	Monitor     bool
	Immediate   bool
	BufferSize  int
	Resolution  models.Resolution
	RemoteAuth  *RemoteAuth

	// Reader feeds KindReader sources. With CloseReader set, Dispose closes
	// it if it implements io.Closer.
	Reader      io.Reader
	CloseReader bool

	// Filter, when set, is installed right after the source opens.
	Filter string

	// JoinTimeout bounds StopCapture. Keep it above twice ReadTimeout.
	JoinTimeout time.Duration
	// PollTimeout bounds the descriptor wait of sources that have one.
	PollTimeout time.Duration
	// DispatchBatch caps the frames read per dispatch call.
	DispatchBatch int

	// Params are backend specific, see the driver *Params types.
	Params map[string]interface{}
}

func (o *Options) applyDefaults() {
	if o.SnapLen <= 0 {
		o.SnapLen = driver.DefaultSnapLen
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = driver.DefaultReadTimeout
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
		if floor := 2*o.ReadTimeout + o.PollTimeout; o.JoinTimeout <= floor {
			o.JoinTimeout = floor + o.ReadTimeout
		}
	}
	if o.DispatchBatch <= 0 {
		o.DispatchBatch = driver.DefaultBatch
	}
}

func (o *Options) driverOptions() driver.Options {
	return driver.Options{
		Source:      o.Source,
		Kind:        o.Kind,
		SnapLen:     o.SnapLen,
		ReadTimeout: o.ReadTimeout,
		Promiscuous: o.Promiscuous,
		Monitor:     o.Monitor,
		Immediate:   o.Immediate,
		BufferSize:  o.BufferSize,
		Resolution:  o.Resolution,
		RemoteAuth:  o.RemoteAuth,
		Reader:      o.Reader,
		Params:      o.Params,
	}
}

// OptionsFromConfig maps a loaded capture profile onto Options.
func OptionsFromConfig(c config.CaptureConfig) Options {
	o := Options{
		Source:        c.Source,
		Kind:          c.Kind,
		SnapLen:       c.SnapLen,
		ReadTimeout:   c.ReadTimeout,
		Promiscuous:   c.Promiscuous,
		Monitor:       c.Monitor,
		Immediate:     c.Immediate,
		BufferSize:    c.BufferSize,
		Resolution:    c.Resolution,
		Filter:        c.Filter,
		JoinTimeout:   c.JoinTimeout,
		PollTimeout:   c.PollTimeout,
		DispatchBatch: c.DispatchBatch,
		Params:        c.Driver,
	}
	if c.Remote != nil {
		o.RemoteAuth = &RemoteAuth{Username: c.Remote.Username, Password: c.Remote.Password}
	}
	return o
}
