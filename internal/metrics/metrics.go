// Package metrics provides Prometheus metrics for sync passes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallabag_syncer"

// Sync holds the collectors of the sync engine.
type Sync struct {
	// PagesTotal counts page fetches by status.
	PagesTotal *prometheus.CounterVec
	// EntriesTotal counts merged entries by merge result.
	EntriesTotal *prometheus.CounterVec
	// PushesTotal counts pushes of local changes by status.
	PushesTotal *prometheus.CounterVec
	PurgedTotal prometheus.Counter
	// PassesTotal counts finished passes by outcome.
	PassesTotal  *prometheus.CounterVec
	PassDuration prometheus.Histogram
	Running      prometheus.Gauge
}

// NewSync registers the sync collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	factory := promauto.With(reg)

	return &Sync{
		PagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_total",
				Help:      "Total number of entry pages fetched",
			},
			[]string{"status"},
		),
		EntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_total",
				Help:      "Total number of entries merged, by result",
			},
			[]string{"result"},
		),
		PushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_total",
				Help:      "Total number of local changes pushed to the server",
			},
			[]string{"status"},
		),
		PurgedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_total",
				Help:      "Total number of local entries purged",
			},
		),
		PassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Total number of sync passes, by outcome",
			},
			[]string{"outcome"},
		),
		PassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of sync passes in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		Running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running",
				Help:      "1 while a sync pass is running",
			},
		),
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// PageFetched records a page fetch.
func (m *Sync) PageFetched(ok bool) {
	m.PagesTotal.WithLabelValues(status(ok)).Inc()
}

// EntriesMerged records n entries merged with the given result:
// "new", "updated", "unchanged" or "push".
func (m *Sync) EntriesMerged(result string, n int) {
	m.EntriesTotal.WithLabelValues(result).Add(float64(n))
}

// Pushed records a push of local flags.
func (m *Sync) Pushed(ok bool) {
	m.PushesTotal.WithLabelValues(status(ok)).Inc()
}

func (m *Sync) Purged(n int) {
	m.PurgedTotal.Add(float64(n))
}

// PassStarted marks a pass as running.
func (m *Sync) PassStarted() {
	m.Running.Set(1)
}

// PassFinished records a finished pass with outcome "success", "partial" or "error".
func (m *Sync) PassFinished(outcome string, d time.Duration) {
	m.Running.Set(0)
	m.PassesTotal.WithLabelValues(outcome).Inc()
	m.PassDuration.Observe(d.Seconds())
}
