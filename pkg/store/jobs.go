package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

const jobColumns = `id, type, profile_id, source_platform, dedup_key, payload, status, attempts,
	max_attempts, priority, run_at, last_error, claimed_at, created_at, updated_at, finished_at`

// ClaimWindow is the span MaxPerMinute is counted over.
const ClaimWindow = time.Minute

type jobRow struct {
	ID             string  `db:"id"`
	Type           string  `db:"type"`
	ProfileID      string  `db:"profile_id"`
	SourcePlatform string  `db:"source_platform"`
	DedupKey       string  `db:"dedup_key"`
	Payload        string  `db:"payload"`
	Status         string  `db:"status"`
	Attempts       int     `db:"attempts"`
	MaxAttempts    int     `db:"max_attempts"`
	Priority       int     `db:"priority"`
	RunAt          int64   `db:"run_at"`
	LastError      *string `db:"last_error"`
	ClaimedAt      *int64  `db:"claimed_at"`
	CreatedAt      int64   `db:"created_at"`
	UpdatedAt      int64   `db:"updated_at"`
	FinishedAt     *int64  `db:"finished_at"`
}

func (r *jobRow) job() (link.Job, error) {
	j := link.Job{
		ID:             r.ID,
		Type:           r.Type,
		SourcePlatform: r.SourcePlatform,
		Status:         link.JobStatus(r.Status),
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		Priority:       r.Priority,
		RunAt:          fromMillis(r.RunAt),
		LastError:      r.LastError,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
	if r.FinishedAt != nil {
		t := fromMillis(*r.FinishedAt)
		j.FinishedAt = &t
	}
	if r.ClaimedAt != nil {
		t := fromMillis(*r.ClaimedAt)
		j.ClaimedAt = &t
	}
	if err := json.Unmarshal([]byte(r.Payload), &j.Payload); err != nil {
		return j, fmt.Errorf("decode payload of job %s: %w", r.ID, err)
	}
	return j, nil
}

func jobs(rows []jobRow) ([]link.Job, error) {
	out := make([]link.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].job()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// InsertJob stores a new pending job, assigning its ID and timestamps.
func (q *queries) InsertJob(ctx context.Context, j *link.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = link.JobPending
	}
	now := q.now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = q.exec(ctx, `INSERT INTO ingestion_jobs (id, type, profile_id, source_platform, dedup_key, payload,
			status, attempts, max_attempts, priority, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, j.Payload.ProfileID, j.SourcePlatform, j.Payload.DedupKey, string(payload),
		string(j.Status), j.Attempts, j.MaxAttempts, j.Priority, millis(j.RunAt), millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Job returns a single job.
func (q *queries) Job(ctx context.Context, id string) (*link.Job, error) {
	var row jobRow
	err := q.get(ctx, &row, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	j, err := row.job()
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ActiveJobForKey returns a job with the dedup key that is still queued or
// running, or that succeeded at or after since. It returns ErrNotFound when
// there is none.
func (q *queries) ActiveJobForKey(ctx context.Context, dedupKey string, since time.Time) (*link.Job, error) {
	var row jobRow
	err := q.get(ctx, &row, `SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE dedup_key = ?
		  AND (status IN ('pending', 'processing') OR (status = 'succeeded' AND finished_at >= ?))
		ORDER BY created_at DESC
		LIMIT 1`, dedupKey, millis(since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job for key: %w", err)
	}
	j, err := row.job()
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimableJobs returns up to limit pending jobs due at now, highest
// priority first, then oldest run_at.
func (q *queries) ClaimableJobs(ctx context.Context, now time.Time, limit int) ([]link.Job, error) {
	var rows []jobRow
	err := q.sel(ctx, &rows, `SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE status = 'pending' AND run_at <= ?
		ORDER BY priority DESC, run_at ASC
		LIMIT ?`, millis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable jobs: %w", err)
	}
	return jobs(rows)
}

// ClaimBudget caps the jobs of one network that may be claimed, counted
// across every runner sharing the database. A zero limit blocks all claims.
type ClaimBudget struct {
	Network       string
	MaxConcurrent int
	MaxPerMinute  int
}

// ClaimJob moves a pending job to processing and counts the attempt, provided
// its network has fewer than MaxConcurrent jobs processing and fewer than
// MaxPerMinute claims within ClaimWindow. It reports false when the job was
// claimed elsewhere or the network is at a limit. Call it inside WithTx: on
// PostgreSQL a transaction-scoped advisory lock serializes claims per network.
func (q *queries) ClaimJob(ctx context.Context, id string, b ClaimBudget) (bool, error) {
	if q.q.DriverName() == DriverPostgres {
		if _, err := q.exec(ctx, `SELECT pg_advisory_xact_lock(hashtext(?))`, b.Network); err != nil {
			return false, fmt.Errorf("lock network %s: %w", b.Network, err)
		}
	}
	now := q.now()
	n, err := q.exec(ctx, `UPDATE ingestion_jobs SET status = 'processing', attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
		  AND (SELECT COUNT(*) FROM ingestion_jobs WHERE source_platform = ? AND status = 'processing') < ?
		  AND (SELECT COUNT(*) FROM ingestion_jobs WHERE source_platform = ? AND claimed_at > ?) < ?`,
		millis(now), millis(now), id,
		b.Network, b.MaxConcurrent,
		b.Network, millis(now.Add(-ClaimWindow)), b.MaxPerMinute)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return n == 1, nil
}

// DeferJob moves a pending job's run_at without claiming it.
func (q *queries) DeferJob(ctx context.Context, id string, runAt time.Time) error {
	return q.execOne(ctx, "defer job "+id,
		`UPDATE ingestion_jobs SET run_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		millis(runAt), millis(q.now()), id)
}

// ExpiredClaims returns processing jobs claimed before staleBefore.
func (q *queries) ExpiredClaims(ctx context.Context, staleBefore time.Time) ([]link.Job, error) {
	var rows []jobRow
	err := q.sel(ctx, &rows, `SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE status = 'processing' AND COALESCE(claimed_at, updated_at) < ?
		ORDER BY claimed_at ASC`, millis(staleBefore))
	if err != nil {
		return nil, fmt.Errorf("select expired claims: %w", err)
	}
	return jobs(rows)
}

// ExpireClaim returns a job still processing under a claim older than
// staleBefore to pending, due now. The interrupted attempt stays counted. It
// reports false when the job finished or was expired elsewhere.
func (q *queries) ExpireClaim(ctx context.Context, id string, staleBefore time.Time, errMsg string) (bool, error) {
	now := millis(q.now())
	n, err := q.exec(ctx, `UPDATE ingestion_jobs SET status = 'pending', run_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND COALESCE(claimed_at, updated_at) < ?`,
		now, errMsg, now, id, millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("expire claim on job %s: %w", id, err)
	}
	return n == 1, nil
}

// SucceedJob marks a job succeeded.
func (q *queries) SucceedJob(ctx context.Context, id string) error {
	now := millis(q.now())
	return q.execOne(ctx, "succeed job "+id,
		`UPDATE ingestion_jobs SET status = 'succeeded', finished_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
}

// FailJob marks a job permanently failed with the final error.
func (q *queries) FailJob(ctx context.Context, id, errMsg string) error {
	now := millis(q.now())
	return q.execOne(ctx, "fail job "+id,
		`UPDATE ingestion_jobs SET status = 'failed', last_error = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		errMsg, now, now, id)
}

// RescheduleJob returns a job to pending for another attempt at runAt.
func (q *queries) RescheduleJob(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return q.execOne(ctx, "reschedule job "+id,
		`UPDATE ingestion_jobs SET status = 'pending', run_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		millis(runAt), errMsg, millis(q.now()), id)
}

// ReleaseJob returns a claimed job to pending without consuming its attempt.
func (q *queries) ReleaseJob(ctx context.Context, id string, runAt time.Time) error {
	return q.execOne(ctx, "release job "+id,
		`UPDATE ingestion_jobs SET status = 'pending', run_at = ?, updated_at = ?,
			attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END
		WHERE id = ? AND status = 'processing'`,
		millis(runAt), millis(q.now()), id)
}

// ResetJob requeues a failed job with a fresh attempt budget. It reports
// false when the job is not failed.
func (q *queries) ResetJob(ctx context.Context, id string) (bool, error) {
	now := millis(q.now())
	n, err := q.exec(ctx, `UPDATE ingestion_jobs SET status = 'pending', attempts = 0, last_error = NULL,
			finished_at = NULL, run_at = ?, updated_at = ?
		WHERE id = ? AND status = 'failed'`, now, now, id)
	if err != nil {
		return false, fmt.Errorf("reset job %s: %w", id, err)
	}
	return n == 1, nil
}

// JobCounts returns the number of jobs in each status.
func (q *queries) JobCounts(ctx context.Context) (map[link.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := q.sel(ctx, &rows, `SELECT status, COUNT(*) AS n FROM ingestion_jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	out := make(map[link.JobStatus]int, len(rows))
	for _, r := range rows {
		out[link.JobStatus(r.Status)] = r.N
	}
	return out, nil
}
