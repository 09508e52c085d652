package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/pipeline"
	"github.com/codeGROOVE-dev/biolink/pkg/store"
)

// Summary counts what one RunOnce did.
type Summary struct {
	Claimed     int `json:"claimed"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
	// Released jobs went back to pending without using an attempt
	// (network disabled, at its shared budget, or interrupted).
	Released int `json:"released"`
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRescheduled
	outcomeFailed
	outcomeReleased
)

// Claim returns expired claims to pending, then moves up to n due pending
// jobs to processing. Jobs that already used all of their attempts are marked
// failed instead. A job whose network is disabled or has used its budget is
// deferred without using an attempt, and a job another runner claimed first
// is skipped. On error the jobs claimed so far are returned with it.
func (r *Runner) Claim(ctx context.Context, n int) ([]link.Job, error) {
	claimed, _, err := r.claim(ctx, n, r.networks(ctx))
	return claimed, err
}

func (r *Runner) claim(ctx context.Context, n int, networks func(string) link.ScraperConfig) ([]link.Job, int, error) {
	if err := r.expireClaims(ctx); err != nil {
		return nil, 0, err
	}
	now := r.now()
	candidates, err := r.store.ClaimableJobs(ctx, now, n)
	if err != nil {
		return nil, 0, err
	}

	var claimed []link.Job
	deferred := 0
	full := make(map[string]bool)
	for _, j := range candidates {
		if j.Exhausted() {
			msg := link.Deref(j.LastError)
			if msg == "" {
				msg = fmt.Sprintf("max attempts (%d) exhausted", j.MaxAttempts)
			}
			if err := r.markFailed(ctx, &j, msg); err != nil {
				return claimed, deferred, err
			}
			continue
		}

		cfg := networks(j.SourcePlatform)
		if !cfg.Enabled {
			r.deferJob(ctx, &j, now.Add(time.Minute), "network disabled")
			deferred++
			continue
		}
		if full[j.SourcePlatform] {
			r.deferJob(ctx, &j, now.Add(budgetDelay(cfg)), "network at capacity")
			deferred++
			continue
		}

		won := false
		err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			won, err = tx.ClaimJob(ctx, j.ID, store.ClaimBudget{
				Network:       j.SourcePlatform,
				MaxConcurrent: cfg.MaxConcurrent,
				MaxPerMinute:  cfg.MaxJobsPerMinute,
			})
			if err != nil || !won {
				return err
			}
			return setProfileStatus(ctx, tx, j.Payload.ProfileID, link.IngestionProcessing, nil)
		})
		if err != nil {
			return claimed, deferred, err
		}
		if !won {
			cur, err := r.store.Job(ctx, j.ID)
			if err != nil {
				return claimed, deferred, err
			}
			if cur.Status != link.JobPending {
				r.logger.DebugContext(ctx, "job claimed by another runner", "job_id", j.ID)
				continue
			}
			full[j.SourcePlatform] = true
			r.deferJob(ctx, &j, now.Add(budgetDelay(cfg)), "network at capacity")
			deferred++
			continue
		}
		j.Status = link.JobProcessing
		j.Attempts++
		j.ClaimedAt = &now
		r.observer.JobClaimed(j.SourcePlatform)
		claimed = append(claimed, j)
	}
	return claimed, deferred, nil
}

// budgetDelay spaces retries of a network at capacity by its per-claim share
// of the window.
func budgetDelay(cfg link.ScraperConfig) time.Duration {
	return store.ClaimWindow / time.Duration(max(cfg.MaxJobsPerMinute, 1))
}

// expireClaims returns jobs whose claim outlived ClaimLease to pending. The
// attempt they were on stays counted, so a job that keeps killing its runner
// still runs out of attempts.
func (r *Runner) expireClaims(ctx context.Context) error {
	cutoff := r.now().Add(-r.cfg.ClaimLease)
	stale, err := r.store.ExpiredClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, j := range stale {
		msg := fmt.Sprintf("claim expired after %s", r.cfg.ClaimLease)
		expired := false
		err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			if expired, err = tx.ExpireClaim(ctx, j.ID, cutoff, msg); err != nil || !expired {
				return err
			}
			return setProfileStatus(ctx, tx, j.Payload.ProfileID, link.IngestionPending, nil)
		})
		if err != nil {
			return err
		}
		if !expired {
			continue
		}
		j.Status = link.JobPending
		j.LastError = &msg
		r.logger.WarnContext(ctx, "expired claim returned to pending", "job_id", j.ID,
			"claimed_at", j.ClaimedAt, "attempts", j.Attempts)
		if j.Exhausted() {
			if err := r.markFailed(ctx, &j, msg); err != nil {
				return err
			}
			continue
		}
		r.observer.JobRetried(j.SourcePlatform)
	}
	return nil
}

// RunOnce claims one batch and executes it, grouped by source platform under
// each network's concurrency limit.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	networks := r.networks(ctx)
	jobs, deferred, err := r.claim(ctx, r.cfg.BatchSize, networks)
	sum.Released = deferred
	if err != nil {
		// Jobs claimed before the failure would otherwise sit in processing
		// until their lease expires.
		for i := range jobs {
			r.release(ctx, &jobs[i], r.now(), "claim aborted")
			sum.Released++
		}
		return sum, fmt.Errorf("claim: %w", err)
	}
	sum.Claimed = len(jobs)
	if len(jobs) == 0 {
		return sum, nil
	}

	var order []string
	groups := make(map[string][]link.Job)
	for _, j := range jobs {
		if _, ok := groups[j.SourcePlatform]; !ok {
			order = append(order, j.SourcePlatform)
		}
		groups[j.SourcePlatform] = append(groups[j.SourcePlatform], j)
	}

	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSucceeded:
			sum.Succeeded++
		case outcomeRescheduled:
			sum.Rescheduled++
		case outcomeFailed:
			sum.Failed++
		case outcomeReleased:
			sum.Released++
		}
	}

	var all errgroup.Group
	for _, name := range order {
		cfg := networks(name)
		group := groups[name]
		all.Go(func() error {
			r.runNetwork(ctx, cfg, group, record)
			return nil
		})
	}
	_ = all.Wait() //nolint:errcheck // outcomes are recorded per job

	r.logger.InfoContext(ctx, "batch complete", "claimed", sum.Claimed, "succeeded", sum.Succeeded,
		"rescheduled", sum.Rescheduled, "failed", sum.Failed, "released", sum.Released)
	return sum, nil
}

// runNetwork executes one network's claimed jobs. The store already enforced
// the shared budget at claim time; the local limiter only spreads this
// process's starts across the minute instead of firing them together.
func (r *Runner) runNetwork(ctx context.Context, cfg link.ScraperConfig, jobs []link.Job, record func(outcome)) {
	lim := r.limiter(cfg)
	var g errgroup.Group
	g.SetLimit(max(cfg.MaxConcurrent, 1))
	for i := range jobs {
		j := &jobs[i]
		if err := r.pace(ctx, lim); err != nil {
			record(r.release(ctx, j, r.now(), "interrupted"))
			continue
		}
		g.Go(func() error {
			_, o := r.execute(ctx, j, cfg)
			record(o)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // outcomes are recorded per job
}

// pace waits for the limiter to allow one start.
func (r *Runner) pace(ctx context.Context, lim *rate.Limiter) error {
	now := r.now()
	rsv := lim.ReserveN(now, 1)
	if !rsv.OK() {
		return nil
	}
	delay := rsv.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		rsv.CancelAt(r.now())
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// limiter returns this process's pacer for a network. The hard caps are
// enforced by the store when jobs are claimed.
func (r *Runner) limiter(cfg link.ScraperConfig) *rate.Limiter {
	limit := rate.Limit(float64(max(cfg.MaxJobsPerMinute, 1)) / 60)
	burst := max(min(cfg.MaxConcurrent, cfg.MaxJobsPerMinute), 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[cfg.Network]
	if !ok {
		lim = rate.NewLimiter(limit, burst)
		r.limiters[cfg.Network] = lim
		return lim
	}
	now := r.now()
	if lim.Limit() != limit {
		lim.SetLimitAt(now, limit)
	}
	if lim.Burst() != burst {
		lim.SetBurstAt(now, burst)
	}
	return lim
}

// networks returns a lookup merging configured networks with operator rows
// from the store.
func (r *Runner) networks(ctx context.Context) func(string) link.ScraperConfig {
	merged := make(map[string]link.ScraperConfig, len(r.cfg.Networks))
	for k, v := range r.cfg.Networks {
		v.Network = k
		merged[k] = v
	}
	rows, err := r.store.ScraperConfigs(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "using configured network limits", "error", err)
	}
	for _, c := range rows {
		merged[c.Network] = c
	}
	return func(name string) link.ScraperConfig {
		if c, ok := merged[name]; ok {
			if c.Strategy == "" {
				c.Strategy = link.PolicyAuto
			}
			return c
		}
		return link.DefaultScraperConfig(name)
	}
}

// Execute runs a claimed job to completion and records its outcome.
func (r *Runner) Execute(ctx context.Context, job *link.Job) (pipeline.Result, error) {
	res, o := r.execute(ctx, job, r.networks(ctx)(job.SourcePlatform))
	if o != outcomeSucceeded {
		return res, fmt.Errorf("job %s: %s", job.ID, link.Deref(job.LastError))
	}
	return res, nil
}

func (r *Runner) execute(ctx context.Context, job *link.Job, cfg link.ScraperConfig) (pipeline.Result, outcome) {
	start := r.now()
	log := r.logger.With("job_id", job.ID, "source_url", job.Payload.SourceURL, "attempt", job.Attempts)

	doc, strat, err := r.pipeline.Fetch(ctx, job)
	if err != nil {
		return pipeline.Result{}, r.handleFailure(ctx, job, err)
	}
	extracted, err := r.pipeline.Extract(strat, doc, cfg)
	if err != nil {
		return pipeline.Result{}, r.handleFailure(ctx, job, err)
	}

	var result pipeline.Result
	err = r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		profile, err := tx.Profile(ctx, job.Payload.ProfileID)
		if errors.Is(err, store.ErrNotFound) {
			return link.Fatal("load profile", link.CodeNotFound, err)
		}
		if err != nil {
			return err
		}
		if result, err = r.pipeline.Merge(ctx, tx, *profile, extracted); err != nil {
			return err
		}
		if err := tx.SucceedJob(ctx, job.ID); err != nil {
			return err
		}
		return tx.SetIngestionStatus(ctx, profile.ID, link.IngestionIdle, nil)
	})
	if err != nil {
		return pipeline.Result{}, r.handleFailure(ctx, job, err)
	}

	job.Status = link.JobSucceeded
	r.observer.JobFinished(job.SourcePlatform, link.JobSucceeded)
	r.observer.LinksMerged(job.SourcePlatform, result.Inserted, result.Updated, result.Skipped)
	log.InfoContext(ctx, "job succeeded", "extracted", result.ExtractedLinks, "inserted", result.Inserted,
		"updated", result.Updated, "skipped", result.Skipped, "duration", r.now().Sub(start))

	for _, fu := range r.pipeline.FollowUps(job, extracted) {
		prio := job.Priority
		_, created, err := r.Enqueue(ctx, EnqueueRequest{
			ProfileID:      job.Payload.ProfileID,
			SourceURL:      fu.SourceURL,
			SourcePlatform: fu.SourcePlatform,
			Priority:       &prio,
			Depth:          fu.Depth,
		})
		if err != nil {
			log.WarnContext(ctx, "follow-up enqueue failed", "url", fu.SourceURL, "error", err)
			continue
		}
		if created {
			log.InfoContext(ctx, "follow-up enqueued", "url", fu.SourceURL, "depth", fu.Depth)
		}
	}
	return result, outcomeSucceeded
}

// handleFailure fails fatal or exhausted jobs and reschedules the rest with backoff.
func (r *Runner) handleFailure(ctx context.Context, job *link.Job, cause error) outcome {
	msg := cause.Error()
	job.LastError = &msg

	if ctx.Err() != nil && !link.IsFatal(cause) {
		// Shutdown interrupted the attempt; it should not count.
		return r.release(ctx, job, r.now(), "interrupted")
	}

	kind := link.KindOf(cause)
	if kind == link.KindFatal || job.Exhausted() {
		if err := r.markFailed(ctx, job, msg); err != nil {
			r.logger.ErrorContext(ctx, "could not mark job failed", "job_id", job.ID, "error", err)
		}
		return outcomeFailed
	}

	delay := r.Backoff(job.Attempts) + r.jitter(r.cfg.MaxJitter)
	runAt := r.now().Add(delay)
	err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.RescheduleJob(ctx, job.ID, runAt, msg); err != nil {
			return err
		}
		return setProfileStatus(ctx, tx, job.Payload.ProfileID, link.IngestionPending, nil)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "could not reschedule job", "job_id", job.ID, "error", err)
		return outcomeRescheduled
	}
	job.Status = link.JobPending
	job.RunAt = runAt
	r.observer.JobRetried(job.SourcePlatform)
	r.logger.WarnContext(ctx, "job rescheduled", "job_id", job.ID, "attempt", job.Attempts,
		"max_attempts", job.MaxAttempts, "delay", delay, "kind", kind, "error", cause)
	return outcomeRescheduled
}

func (r *Runner) markFailed(ctx context.Context, job *link.Job, msg string) error {
	err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.FailJob(ctx, job.ID, msg); err != nil {
			return err
		}
		return setProfileStatus(ctx, tx, job.Payload.ProfileID, link.IngestionFailed, &msg)
	})
	if err != nil {
		return err
	}
	job.Status = link.JobFailed
	job.LastError = &msg
	r.observer.JobFinished(job.SourcePlatform, link.JobFailed)
	r.logger.WarnContext(ctx, "job failed", "job_id", job.ID, "source_url", job.Payload.SourceURL,
		"attempts", job.Attempts, "error", msg)
	return nil
}

// deferJob pushes an unclaimed job's run_at back without using an attempt.
func (r *Runner) deferJob(ctx context.Context, job *link.Job, runAt time.Time, reason string) {
	if err := r.store.DeferJob(ctx, job.ID, runAt); err != nil {
		r.logger.WarnContext(ctx, "could not defer job", "job_id", job.ID, "error", err)
		return
	}
	job.RunAt = runAt
	r.observer.JobReleased(job.SourcePlatform)
	r.logger.DebugContext(ctx, "job deferred", "job_id", job.ID, "reason", reason, "run_at", runAt)
}

// release returns a claimed job to pending at runAt without using an attempt.
func (r *Runner) release(ctx context.Context, job *link.Job, runAt time.Time, reason string) outcome {
	err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.ReleaseJob(ctx, job.ID, runAt); err != nil {
			return err
		}
		return setProfileStatus(ctx, tx, job.Payload.ProfileID, link.IngestionPending, nil)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "could not release job", "job_id", job.ID, "error", err)
	} else {
		job.Status = link.JobPending
		job.Attempts--
		job.RunAt = runAt
	}
	r.observer.JobReleased(job.SourcePlatform)
	r.logger.DebugContext(ctx, "job released", "job_id", job.ID, "reason", reason, "run_at", runAt)
	return outcomeReleased
}
