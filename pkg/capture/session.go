package capture

import (
	"context"
	"errors"

	"firestige.xyz/framecap/internal/config"
	"firestige.xyz/framecap/internal/log"
	"firestige.xyz/framecap/internal/metrics"
)

// Session is everything a capture profile describes: the handle, a send
// queue sized for it and, when enabled, the metrics endpoint.
type Session struct {
	Config *config.Config
	Handle *Handle
	Queue  *SendQueue

	metrics *metrics.Server
}

// OpenProfile loads a YAML profile and opens the session it describes.
func OpenProfile(path string) (*Session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return OpenSession(cfg)
}

// OpenSession configures logging from cfg, starts the metrics endpoint if
// enabled and opens the capture source.
func OpenSession(cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, err
	}

	s := &Session{Config: cfg}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := s.metrics.Start(context.Background()); err != nil {
			return nil, err
		}
	}

	h, err := FromConfig(cfg.Capture)
	if err != nil {
		s.stopMetrics()
		return nil, err
	}
	s.Handle = h
	s.Queue = NewSendQueueFromConfig(cfg.Transmit)
	if err := s.Queue.SetResolution(cfg.Capture.Resolution); err != nil {
		_ = h.Dispose()
		s.stopMetrics()
		return nil, err
	}
	return s, nil
}

// MetricsAddr is the bound metrics address, or "" when metrics are off.
func (s *Session) MetricsAddr() string {
	if s.metrics == nil {
		return ""
	}
	return s.metrics.Addr()
}

// Transmit replays the session queue in the profile's transmit mode.
func (s *Session) Transmit() (int, error) {
	return s.Queue.Transmit(s.Handle, s.Config.Transmit.Mode)
}

// Close disposes the handle and the queue and stops the metrics endpoint.
func (s *Session) Close() error {
	err := s.Handle.Dispose()
	s.Queue.Dispose()
	return errors.Join(err, s.stopMetrics())
}

func (s *Session) stopMetrics() error {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Stop(context.Background())
}
