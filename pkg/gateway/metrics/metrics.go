// Package metrics exposes prometheus collectors for the relay and lifecycle
// paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kt_api_active_relays",
		Help: "Number of live relay sessions.",
	})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kt_api_sessions_started_total",
		Help: "Relay sessions accepted.",
	})

	SessionsDetached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_api_sessions_detached_total",
		Help: "Relay sessions detached, by cause.",
	}, []string{"cause"})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kt_api_upstream_reconnect_attempts_total",
		Help: "Upstream reconnect attempts scheduled.",
	})

	UtterancesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_api_utterances_persisted_total",
		Help: "Transcript utterances flushed to the store, by speaker.",
	}, []string{"speaker"})

	FramesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kt_api_frames_stored_total",
		Help: "Visual frames uploaded after passing change detection.",
	})

	FramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kt_api_frames_skipped_total",
		Help: "Visual frames discarded as unchanged.",
	})

	SynthesisOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kt_api_synthesis_total",
		Help: "Document synthesis attempts, by outcome.",
	}, []string{"outcome"})
)
