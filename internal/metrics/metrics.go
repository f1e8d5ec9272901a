// Package metrics exposes Prometheus instruments for scene sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sceneguide"

// Skip reasons recorded by SkippedTick.
const (
	SkipNoFrame   = "no_frame"
	SkipAnalyzing = "analyzing"
	SkipUnchanged = "unchanged"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	analysesTotal       *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	ticksSkipped        *prometheus.CounterVec
	utterancesTotal     *prometheus.CounterVec
	recognitionRestarts prometheus.Counter
	sessionsActive      prometheus.Gauge
	framesDropped       prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Description requests by origin and outcome",
			},
			[]string{"origin", "status"}, // status: success, error
		),
		analysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Duration of description requests in seconds",
				Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"origin"},
		),
		ticksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_skipped_total",
				Help:      "Capture ticks that did not dispatch a request",
			},
			[]string{"reason"},
		),
		utterancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "utterances_total",
				Help:      "Utterances by outcome",
			},
			[]string{"status"}, // status: completed, cancelled, error, suppressed
		),
		recognitionRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Automatic speech recognition restarts",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently streaming",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_overwritten_total",
			Help:      "Client frames replaced before a capture tick consumed them",
		}),
	}

	m.registry.MustRegister(
		m.analysesTotal,
		m.analysisDuration,
		m.ticksSkipped,
		m.utterancesTotal,
		m.recognitionRestarts,
		m.sessionsActive,
		m.framesDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Analysis records one settled description request.
func (m *Metrics) Analysis(origin string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.analysesTotal.WithLabelValues(origin, status).Inc()
	m.analysisDuration.WithLabelValues(origin).Observe(elapsed.Seconds())
}

// SkippedTick records a capture tick that was not dispatched.
func (m *Metrics) SkippedTick(reason string) {
	if m == nil {
		return
	}
	m.ticksSkipped.WithLabelValues(reason).Inc()
}

// Utterance records how an utterance ended.
func (m *Metrics) Utterance(status string) {
	if m == nil {
		return
	}
	m.utterancesTotal.WithLabelValues(status).Inc()
}

// RecognitionRestart counts an automatic restart.
func (m *Metrics) RecognitionRestart() {
	if m == nil {
		return
	}
	m.recognitionRestarts.Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionStopped decrements the active session gauge.
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// FrameOverwritten counts a client frame that was replaced unread.
func (m *Metrics) FrameOverwritten() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}
