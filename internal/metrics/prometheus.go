package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Call lifecycle metrics
	ActiveCalls  prometheus.Gauge
	CallsStarted prometheus.Counter
	CallsEnded   prometheus.Counter
	CallDuration prometheus.Histogram

	// Frame relay metrics
	FramesToBackend prometheus.Counter
	FramesToCaller  prometheus.Counter
	FramesBuffered  prometheus.Counter
	FramesDropped   prometheus.Counter
	DecodeErrors    prometheus.Counter

	// Backend metrics
	ConnectFailures prometheus.Counter
	Interruptions   prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a
// fresh prometheus.NewRegistry so repeated setup does not collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbridge_active_calls",
			Help: "Current number of active relay sessions",
		}),
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_calls_started_total",
			Help: "Total number of relay sessions started",
		}),
		CallsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_calls_ended_total",
			Help: "Total number of relay sessions ended",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbridge_call_duration_seconds",
			Help:    "Relay session duration from socket accept to teardown",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		FramesToBackend: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_to_backend_total",
			Help: "Audio frames forwarded to the AI session",
		}),
		FramesToCaller: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_to_caller_total",
			Help: "Audio delta frames played back to the telephony leg",
		}),
		FramesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_buffered_total",
			Help: "Audio frames buffered while the AI session was connecting",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_frames_dropped_total",
			Help: "Buffered audio frames dropped due to the pending buffer cap",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_decode_errors_total",
			Help: "Malformed telephony messages dropped",
		}),
		ConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_connect_failures_total",
			Help: "AI session connect or configure failures",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_interruptions_total",
			Help: "Caller interruptions that triggered a playback clear",
		}),
	}
}
