// Package metrics exposes Prometheus counters for the terminal session.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons attached to dropped operations.
const (
	ReasonNoHandle = "no_handle"
	ReasonError    = "error"
)

// Metrics holds the session's Prometheus collectors.
type Metrics struct {
	ChunksRead      prometheus.Counter
	BytesRead       prometheus.Counter
	ChunksBuffered  prometheus.Counter
	ChunksDelivered prometheus.Counter
	PendingBytes    prometheus.Gauge
	PendingTrimmed  prometheus.Counter
	Initializations prometheus.Counter

	WritesDropped  *prometheus.CounterVec
	ResizesDropped *prometheus.CounterVec

	EventsDropped prometheus.Counter
	Subscribers   prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksRead: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_output_chunks_read_total",
			Help: "Chunks read from the terminal output stream",
		}),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_output_bytes_read_total",
			Help: "Bytes read from the terminal output stream",
		}),
		ChunksBuffered: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_output_chunks_buffered_total",
			Help: "Chunks appended to the pending buffer before initialization",
		}),
		ChunksDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_output_chunks_delivered_total",
			Help: "Chunks delivered live to the sink",
		}),
		PendingBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "ptybridge_pending_bytes",
			Help: "Bytes currently held in the pending buffer",
		}),
		PendingTrimmed: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_pending_trimmed_bytes_total",
			Help: "Bytes discarded from the pending buffer because of the configured cap",
		}),
		Initializations: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_initialize_calls_total",
			Help: "Calls to initialize",
		}),
		WritesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ptybridge_writes_dropped_total",
			Help: "Writes that became no-ops",
		}, []string{"reason"}),
		ResizesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ptybridge_resizes_dropped_total",
			Help: "Resizes that became no-ops",
		}, []string{"reason"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ptybridge_events_dropped_total",
			Help: "term-data events dropped for slow subscribers",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "ptybridge_event_subscribers",
			Help: "Connected event subscribers",
		}),
	}
}

func (m *Metrics) ObserveRead(n int) {
	if m == nil {
		return
	}
	m.ChunksRead.Inc()
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) ObserveBuffered(pending int) {
	if m == nil {
		return
	}
	m.ChunksBuffered.Inc()
	m.PendingBytes.Set(float64(pending))
}

func (m *Metrics) ObserveTrimmed(n int) {
	if m == nil {
		return
	}
	m.PendingTrimmed.Add(float64(n))
}

func (m *Metrics) ObserveDelivered() {
	if m == nil {
		return
	}
	m.ChunksDelivered.Inc()
}

func (m *Metrics) ObserveInitialize() {
	if m == nil {
		return
	}
	m.Initializations.Inc()
	m.PendingBytes.Set(0)
}

func (m *Metrics) WriteDropped(reason string) {
	if m == nil {
		return
	}
	m.WritesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ResizeDropped(reason string) {
	if m == nil {
		return
	}
	m.ResizesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
}
