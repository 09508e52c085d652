// Package queue runs ingestion jobs: enqueue with dedup, claim, execute
// through the pipeline, and retry with exponential backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/pipeline"
	"github.com/codeGROOVE-dev/biolink/pkg/store"
)

// ErrNotFailed is returned by Reset for jobs that are not failed.
var ErrNotFailed = errors.New("job is not failed")

// Config holds the runner's limits. Zero fields take DefaultConfig values.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Config struct {
	BatchSize       int
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxJitter       time.Duration
	DedupWindow     time.Duration
	DefaultPriority int
	// ClaimLease bounds how long a job may stay processing. Older claims are
	// treated as abandoned by a crashed runner and returned to pending.
	ClaimLease time.Duration
	// Networks holds per-source limits. Rows in the scraper_configs table override them.
	Networks map[string]link.ScraperConfig
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   20,
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		MaxJitter:   time.Second,
		DedupWindow: time.Hour,
		ClaimLease:  15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

// Observer receives job lifecycle events. metrics.Metrics implements it.
type Observer interface {
	JobClaimed(network string)
	JobFinished(network string, status link.JobStatus)
	JobRetried(network string)
	JobReleased(network string)
	LinksMerged(network string, inserted, updated, skipped int)
}

type nopObserver struct{}

func (nopObserver) JobClaimed(string) {}
func (nopObserver) JobFinished(string, link.JobStatus) {}
func (nopObserver) JobRetried(string) {}
func (nopObserver) JobReleased(string) {}
func (nopObserver) LinksMerged(string, int, int, int) {}

// Runner claims and executes ingestion jobs.
type Runner struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	jitter   func(limit time.Duration) time.Duration
	limiters map[string]*rate.Limiter
	cfg      Config
	mu       sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithJitter overrides the random retry jitter. fn receives Config.MaxJitter.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(r *Runner) { r.jitter = fn }
}

// WithObserver receives job lifecycle events.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// New creates a Runner.
func New(st *store.Store, p *pipeline.Pipeline, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		store:    st,
		pipeline: p,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
		jitter:   randomJitter,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit))) //nolint:gosec // jitter needs no crypto randomness
}

// Backoff returns the retry delay before jitter after the given number of
// attempts: BaseDelay doubled per attempt after the first, capped at MaxDelay.
func (r *Runner) Backoff(attempts int) time.Duration {
	d := r.cfg.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return min(d, r.cfg.MaxDelay)
}

// Reset requeues a failed job with a fresh attempt budget and marks its
// profile pending.
func (r *Runner) Reset(ctx context.Context, jobID string) error {
	job, err := r.store.Job(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != link.JobFailed {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrNotFailed)
	}
	err = r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		ok, err := tx.ResetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFailed)
		}
		return setProfileStatus(ctx, tx, job.Payload.ProfileID, link.IngestionPending, nil)
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "job reset", "job_id", jobID, "source_url", job.Payload.SourceURL)
	return nil
}

// Stats returns the number of jobs in each status.
func (r *Runner) Stats(ctx context.Context) (map[link.JobStatus]int, error) {
	return r.store.JobCounts(ctx)
}

// setProfileStatus tolerates profiles deleted while their job was queued.
func setProfileStatus(ctx context.Context, tx *store.Tx, profileID string, status link.IngestionStatus, msg *string) error {
	err := tx.SetIngestionStatus(ctx, profileID, status, msg)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
