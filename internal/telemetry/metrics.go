package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a Recorder that folds events into Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	queueSize    prometheus.Gauge
	queueOldest  prometheus.Gauge
	posted       prometheus.Counter
	dropped      *prometheus.CounterVec
	flushes      *prometheus.CounterVec
	streakLength *prometheus.HistogramVec
	milestones   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg, or on a fresh registry when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wishwell",
				Subsystem: "telemetry",
				Name:      "events_total",
				Help:      "Total number of telemetry events by name.",
			},
			[]string{"event"},
		),
		queueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wishwell",
				Subsystem: "offline_queue",
				Name:      "size",
				Help:      "Number of pending wishes in the offline queue.",
			},
		),
		queueOldest: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wishwell",
				Subsystem: "offline_queue",
				Name:      "oldest_age_seconds",
				Help:      "Age of the oldest pending wish.",
			},
		),
		posted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wishwell",
				Subsystem: "offline_queue",
				Name:      "posted_total",
				Help:      "Total number of queued wishes delivered.",
			},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wishwell",
				Subsystem: "offline_queue",
				Name:      "dropped_total",
				Help:      "Total number of queued wishes dropped.",
			},
			[]string{"reason"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wishwell",
				Subsystem: "offline_queue",
				Name:      "flushes_total",
				Help:      "Total number of flush runs by connectivity.",
			},
			[]string{"online"},
		),
		streakLength: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wishwell",
				Subsystem: "engagement",
				Name:      "streak_length_days",
				Help:      "Streak length after each recorded event.",
				Buckets:   []float64{1, 2, 3, 5, 7, 14, 30, 60, 120},
			},
			[]string{"kind"},
		),
		milestones: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wishwell",
				Subsystem: "engagement",
				Name:      "milestones_unlocked_total",
				Help:      "Total number of unlocked milestones.",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		m.events,
		m.queueSize,
		m.queueOldest,
		m.posted,
		m.dropped,
		m.flushes,
		m.streakLength,
		m.milestones,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Track implements Recorder.
func (m *Metrics) Track(_ context.Context, event string, props map[string]interface{}) {
	m.events.WithLabelValues(event).Inc()

	switch event {
	case EventQueueEnqueue:
		if n, ok := number(props["size"]); ok {
			m.queueSize.Set(n)
		}
	case EventQueueDrop:
		reason, _ := props["reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		m.dropped.WithLabelValues(reason).Inc()
	case EventQueueState, EventQueueFlush:
		if n, ok := number(props["size"]); ok {
			m.queueSize.Set(n)
		}
		if ms, ok := number(props["oldest_ms"]); ok {
			m.queueOldest.Set(ms / 1000)
		} else {
			m.queueOldest.Set(0)
		}
		if event == EventQueueFlush {
			online, _ := props["online"].(bool)
			m.flushes.WithLabelValues(boolLabel(online)).Inc()
		} else {
			m.flushes.WithLabelValues("false").Inc()
		}
	case EventQueuePostSuccess:
		m.posted.Inc()
	case EventEngagementRecorded:
		kind, _ := props["kind"].(string)
		if n, ok := number(props["current"]); ok && kind != "" {
			m.streakLength.WithLabelValues(kind).Observe(n)
		}
	case EventMilestoneUnlocked:
		kind, _ := props["kind"].(string)
		m.milestones.WithLabelValues(kind).Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *int64:
		if n == nil {
			return 0, false
		}
		return float64(*n), true
	case float64:
		return n, true
	}
	return 0, false
}
