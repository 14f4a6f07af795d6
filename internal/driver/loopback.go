package driver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/internal/filter"
	"firestige.xyz/framecap/internal/replay"
	"firestige.xyz/framecap/pkg/codec"
	"firestige.xyz/framecap/pkg/models"
)

func init() {
	Register(KindLoopback, openLoopback)
}

// LoopbackParams are the "driver" settings understood by the loopback backend.
type LoopbackParams struct {
	// Backlog is the number of frames queued per handle before drops.
	Backlog int `mapstructure:"backlog"`
}

const defaultBacklog = 4096

// segment is a named in-memory wire. Every frame sent on it is seen by every
// loopback handle attached to it, the sender included.
type segment struct {
	mu      sync.RWMutex
	members map[*loopback]struct{}
}

var (
	segmentsMu sync.Mutex
	segments   = make(map[string]*segment)
)

func attach(name string, l *loopback) *segment {
	segmentsMu.Lock()
	defer segmentsMu.Unlock()
	seg, ok := segments[name]
	if !ok {
		seg = &segment{members: make(map[*loopback]struct{})}
		segments[name] = seg
	}
	seg.mu.Lock()
	seg.members[l] = struct{}{}
	seg.mu.Unlock()
	return seg
}

func detach(name string, l *loopback) {
	segmentsMu.Lock()
	defer segmentsMu.Unlock()
	seg, ok := segments[name]
	if !ok {
		return
	}
	seg.mu.Lock()
	delete(seg.members, l)
	empty := len(seg.members) == 0
	seg.mu.Unlock()
	if empty {
		delete(segments, name)
	}
}

type loopFrame struct {
	data []byte
	ci   gopacket.CaptureInfo
}

// loopback is an in-memory live source. It needs no privileges and supports
// every optional facility except a pollable descriptor.
type loopback struct {
	dispatcher
	name    string
	seg     *segment
	snapLen int
	timeout time.Duration
	frames  chan loopFrame
	wake    chan struct{}

	received atomic.Uint32
	dropped  atomic.Uint32
}

var (
	_ Driver           = (*loopback)(nil)
	_ QueueTransmitter = (*loopback)(nil)
	_ ConcurrentSender = (*loopback)(nil)
)

func openLoopback(opts Options) (Driver, error) {
	params := LoopbackParams{Backlog: defaultBacklog}
	if err := mapstructure.Decode(opts.Params, &params); err != nil {
		return nil, err
	}
	if params.Backlog <= 0 {
		params.Backlog = defaultBacklog
	}
	l := &loopback{
		name:    opts.Source,
		snapLen: opts.SnapLen,
		timeout: opts.ReadTimeout,
		frames:  make(chan loopFrame, params.Backlog),
		wake:    make(chan struct{}, 1),
	}
	l.read = l.readFrame
	l.seg = attach(opts.Source, l)
	return l, nil
}

func (l *loopback) readFrame() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case f := <-l.frames:
		return f.data, f.ci, nil
	default:
	}
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case f := <-l.frames:
		return f.data, f.ci, nil
	case <-l.wake:
		return nil, gopacket.CaptureInfo{}, ErrTimeout
	case <-timer.C:
		return nil, gopacket.CaptureInfo{}, ErrTimeout
	}
}

// deliver queues a copy of data if this handle's filter accepts it.
func (l *loopback) deliver(data []byte, now time.Time) {
	if !l.matcher.Load().Match(data) {
		return
	}
	caplen := len(data)
	if caplen > l.snapLen {
		caplen = l.snapLen
	}
	f := loopFrame{
		data: append([]byte(nil), data[:caplen]...),
		ci: gopacket.CaptureInfo{
			Timestamp:     now,
			CaptureLength: caplen,
			Length:        len(data),
		},
	}
	select {
	case l.frames <- f:
		l.received.Add(1)
	default:
		l.dropped.Add(1)
	}
}

func (l *loopback) BreakLoop() {
	l.dispatcher.BreakLoop()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loopback) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (l *loopback) SetBPF(insns []bpf.RawInstruction) error {
	m, err := filter.NewMatcher(insns)
	if err != nil {
		return err
	}
	l.setMatcher(m)
	return nil
}

func (l *loopback) Send(data []byte) error {
	now := time.Now()
	l.seg.mu.RLock()
	defer l.seg.mu.RUnlock()
	for m := range l.seg.members {
		m.deliver(data, now)
	}
	return nil
}

// ConcurrentSend is true: delivery only touches the members' channels.
func (l *loopback) ConcurrentSend() bool { return true }

func (l *loopback) QueueTransmit(buf []byte, layout codec.Layout, res models.Resolution, mode models.TransmitMode, pacer *replay.Pacer) (int, error) {
	return replay.Replay(buf, layout, res, mode, pacer, l.Send)
}

func (l *loopback) Stats() (models.Statistics, error) {
	return models.Statistics{
		Received: l.received.Load(),
		Dropped:  l.dropped.Load(),
	}, nil
}

func (l *loopback) Close() error {
	detach(l.name, l)
	return nil
}
