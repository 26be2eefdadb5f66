// Package metrics holds the Prometheus collectors exported by bundlediff.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Loader outcome label values.
const (
	LoadCacheHit = "cache_hit"
	LoadLoaded   = "loaded"
	LoadNoRecord = "no_record"
	LoadNoBlob   = "no_blob"
	LoadCorrupt  = "corrupt"
	LoadError    = "error"
)

// Metrics groups the collectors used across the service.
type Metrics struct {
	ReportLoads   *prometheus.CounterVec
	Comparisons   *prometheus.CounterVec
	Uploads       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bundlediff",
			Name:      "report_loads_total",
			Help:      "Report load attempts by outcome.",
		}, []string{"outcome"}),
		Comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bundlediff",
			Name:      "comparisons_total",
			Help:      "Comparisons by result (ok or the unavailable reason).",
		}, []string{"result"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bundlediff",
			Name:      "uploads_total",
			Help:      "Report uploads by result.",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bundlediff",
			Name:      "blob_fetch_duration_seconds",
			Help:      "Latency of report blob fetches from storage.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ReportLoads, m.Comparisons, m.Uploads, m.FetchDuration)
	}
	return m
}

// Nop returns unregistered collectors, for callers that do not export metrics.
func Nop() *Metrics {
	return New(nil)
}
