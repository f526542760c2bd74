package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки действия (метка outcome).
const (
	outcomeOK          = "ok"
	outcomeClientError = "client_error"
	outcomeError       = "error"
)

// Metrics — счётчики и гистограмма обработанных действий.
type Metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics регистрирует метрики диспетчера в reg. nil reg — метрики не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comment_store",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatched actions by outcome.",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "comment_store",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent handling an action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}

	if reg != nil {
		reg.MustRegister(m.total, m.duration)
	}

	return m
}

func (m *Metrics) observe(a Action, outcome string, started time.Time) {
	if m == nil {
		return
	}

	m.total.WithLabelValues(label(a), outcome).Inc()
	m.duration.WithLabelValues(label(a)).Observe(time.Since(started).Seconds())
}
