// Package metrics exposes Prometheus collectors for the ingestion runner and fetcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

// Namespace prefixes every metric name.
const Namespace = "biolink"

// Metrics implements queue.Observer and httpcache.Observer.
type Metrics struct {
	JobsClaimed   *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsReleased  *prometheus.CounterVec
	MergedLinks   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "jobs", Name: "claimed_total",
			Help: "Jobs moved from pending to processing.",
		}, []string{"network"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "jobs", Name: "finished_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"network", "status"}),
		JobsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "jobs", Name: "retried_total",
			Help: "Jobs rescheduled with backoff after a transient failure.",
		}, []string{"network"}),
		JobsReleased: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "jobs", Name: "released_total",
			Help: "Claimed jobs returned to pending without using an attempt.",
		}, []string{"network"}),
		MergedLinks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "links", Name: "merged_total",
			Help: "Candidate links merged, by result.",
		}, []string{"network", "result"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "fetch", Name: "duration_seconds",
			Help:    "Source page fetch latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"host"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "fetch", Name: "errors_total",
			Help: "Failed fetches by error code.",
		}, []string{"host", "code"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "fetch", Name: "cache_lookups_total",
			Help: "Response cache lookups.",
		}, []string{"result"}),
	}
}

// JobClaimed counts a claim.
func (m *Metrics) JobClaimed(network string) { m.JobsClaimed.WithLabelValues(network).Inc() }

// JobFinished counts a terminal status.
func (m *Metrics) JobFinished(network string, status link.JobStatus) {
	m.JobsFinished.WithLabelValues(network, string(status)).Inc()
}

// JobRetried counts a reschedule.
func (m *Metrics) JobRetried(network string) { m.JobsRetried.WithLabelValues(network).Inc() }

// JobReleased counts a release.
func (m *Metrics) JobReleased(network string) { m.JobsReleased.WithLabelValues(network).Inc() }

// LinksMerged adds merge counts.
func (m *Metrics) LinksMerged(network string, inserted, updated, skipped int) {
	m.MergedLinks.WithLabelValues(network, "inserted").Add(float64(inserted))
	m.MergedLinks.WithLabelValues(network, "updated").Add(float64(updated))
	m.MergedLinks.WithLabelValues(network, "skipped").Add(float64(skipped))
}

// ObserveFetch records one HTTP fetch.
func (m *Metrics) ObserveFetch(host string, d time.Duration, err error) {
	m.FetchDuration.WithLabelValues(host).Observe(d.Seconds())
	if err != nil {
		code := link.CodeOf(err)
		if code == "" {
			code = "UNKNOWN"
		}
		m.FetchErrors.WithLabelValues(host, code).Inc()
	}
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
