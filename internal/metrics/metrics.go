// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesCapturedTotal counts frames delivered to consumers, by source
	FramesCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framecap_frames_captured_total",
			Help: "Total number of frames delivered by capture loops",
		},
		[]string{"source"},
	)

	// DispatchErrorsTotal counts loops ended by a driver error
	DispatchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framecap_dispatch_errors_total",
			Help: "Total number of capture loops ended by a driver error",
		},
		[]string{"source"},
	)

	// LoopsRunning tracks capture loops currently running
	LoopsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "framecap_loops_running",
			Help: "Number of capture loops currently running",
		},
	)

	// StopTimeoutsTotal counts loops that did not stop within the join timeout
	StopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framecap_stop_timeouts_total",
			Help: "Total number of capture loops abandoned after a stop timeout",
		},
	)

	// TransmitBytesTotal counts send queue bytes transmitted, by mode
	TransmitBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framecap_transmit_bytes_total",
			Help: "Total number of send queue bytes transmitted",
		},
		[]string{"mode"},
	)

	// TransmitFailuresTotal counts send queue transmissions stopped by a send failure
	TransmitFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framecap_transmit_failures_total",
			Help: "Total number of send queue transmissions stopped by a send failure",
		},
		[]string{"mode"},
	)

	// SendQueueRejectsTotal counts records refused for lack of capacity
	SendQueueRejectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "framecap_sendqueue_rejects_total",
			Help: "Total number of records refused by a full send queue",
		},
	)
)
