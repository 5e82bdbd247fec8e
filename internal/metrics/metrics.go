// Package metrics exposes prometheus collectors behind a small provider
// interface so call sites stay clean when metrics are disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider records operational metrics.
type Provider interface {
	IncExtraction(tier string, outcome string)
	ObserveExtractionDuration(tier string, duration time.Duration)
	IncDigestRun(status string)
	IncJobs(kind string, status string)
	ObserveFanInWait(duration time.Duration)
}

type provider struct {
	extractions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	digestRuns         *prometheus.CounterVec
	jobs               *prometheus.CounterVec
	fanInWait          prometheus.Histogram
}

// New constructs the prometheus-backed provider, or a noop one when
// disabled.
func New(enabled bool) Provider {
	if !enabled {
		return &noop{}
	}

	return &provider{
		extractions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatcher_extractions_total",
			Help: "Extraction attempts by tier and outcome",
		}, []string{"tier", "outcome"}),

		extractionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricewatcher_extraction_duration_seconds",
			Help:    "Extraction duration by final tier",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"tier"}),

		digestRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatcher_digest_runs_total",
			Help: "Digest runs by terminal status",
		}, []string{"status"}),

		jobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatcher_jobs_total",
			Help: "Queue jobs by kind and terminal status",
		}, []string{"kind", "status"}),

		fanInWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatcher_fanin_wait_seconds",
			Help:    "Time spent waiting for digest children",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (p *provider) IncExtraction(tier, outcome string) {
	p.extractions.WithLabelValues(tier, outcome).Inc()
}

func (p *provider) ObserveExtractionDuration(tier string, duration time.Duration) {
	p.extractionDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

func (p *provider) IncDigestRun(status string) {
	p.digestRuns.WithLabelValues(status).Inc()
}

func (p *provider) IncJobs(kind, status string) {
	p.jobs.WithLabelValues(kind, status).Inc()
}

func (p *provider) ObserveFanInWait(duration time.Duration) {
	p.fanInWait.Observe(duration.Seconds())
}

// noop is used when metrics are disabled.
type noop struct{}

func (n *noop) IncExtraction(_, _ string)                          {}
func (n *noop) ObserveExtractionDuration(_ string, _ time.Duration) {}
func (n *noop) IncDigestRun(_ string)                              {}
func (n *noop) IncJobs(_, _ string)                                {}
func (n *noop) ObserveFanInWait(_ time.Duration)                   {}
