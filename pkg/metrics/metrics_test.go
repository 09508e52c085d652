package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/codeGROOVE-dev/biolink/pkg/httpcache"
	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/metrics"
	"github.com/codeGROOVE-dev/biolink/pkg/queue"
)

var (
	_ queue.Observer     = (*metrics.Metrics)(nil)
	_ httpcache.Observer = (*metrics.Metrics)(nil)
)

func TestJobCounters(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.JobClaimed("linktree")
	m.JobClaimed("linktree")
	m.JobRetried("linktree")
	m.JobReleased("stan")
	m.JobFinished("linktree", link.JobSucceeded)
	m.JobFinished("linktree", link.JobFailed)
	m.LinksMerged("linktree", 3, 1, 2)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"claimed", m.JobsClaimed.WithLabelValues("linktree"), 2},
		{"retried", m.JobsRetried.WithLabelValues("linktree"), 1},
		{"released", m.JobsReleased.WithLabelValues("stan"), 1},
		{"succeeded", m.JobsFinished.WithLabelValues("linktree", "succeeded"), 1},
		{"failed", m.JobsFinished.WithLabelValues("linktree", "failed"), 1},
		{"inserted", m.MergedLinks.WithLabelValues("linktree", "inserted"), 3},
		{"skipped", m.MergedLinks.WithLabelValues("linktree", "skipped"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestFetchObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveFetch("linktr.ee", 120*time.Millisecond, nil)
	m.ObserveFetch("linktr.ee", time.Second, link.Transient("fetch", link.CodeTimeout, errors.New("slow")))
	m.ObserveFetch("stan.store", time.Second, errors.New("untagged"))
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	if got := testutil.ToFloat64(m.FetchErrors.WithLabelValues("linktr.ee", link.CodeTimeout)); got != 1 {
		t.Errorf("timeout errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchErrors.WithLabelValues("stan.store", "UNKNOWN")); got != 1 {
		t.Errorf("unknown errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.FetchDuration); n != 2 {
		t.Errorf("fetch duration series = %d, want 2", n)
	}
	if _, err := reg.Gather(); err != nil {
		t.Errorf("Gather() error = %v", err)
	}
}
