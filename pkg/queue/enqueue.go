package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
	"github.com/codeGROOVE-dev/biolink/pkg/store"
)

// EnqueueRequest asks for a source page to be ingested into a profile.
type EnqueueRequest struct {
	ProfileID string
	SourceURL string
	// SourcePlatform selects the strategy. Empty means detect from SourceURL.
	SourcePlatform string
	// Priority overrides Config.DefaultPriority when non-nil.
	Priority *int
	Depth    int
}

// DedupKey scopes a source's canonical identity to one profile, so two
// profiles importing the same page get separate jobs.
func DedupKey(profileID, canonical string) string {
	return profileID + "|" + canonical
}

// Enqueue stores a pending job unless one for the same profile and source is
// already queued, running, or succeeded within the dedup window. It returns the new
// or existing job and whether a job was created.
func (r *Runner) Enqueue(ctx context.Context, req EnqueueRequest) (*link.Job, bool, error) {
	d := platform.Detect(req.SourceURL)
	if !d.IsValid {
		return nil, false, link.InvalidURL("enqueue", req.SourceURL, errors.New("not a valid http(s) URL"))
	}
	if req.ProfileID == "" {
		return nil, false, errors.New("enqueue: profile id is required")
	}
	key := DedupKey(req.ProfileID, platform.CanonicalIdentity(d.Platform, d.NormalizedURL))

	source := req.SourcePlatform
	if source == "" {
		s, err := r.pipeline.Strategy("", d.NormalizedURL)
		if err != nil {
			return nil, false, err
		}
		source = s.Name()
	}

	now := r.now()
	existing, err := r.store.ActiveJobForKey(ctx, key, now.Add(-r.cfg.DedupWindow))
	switch {
	case err == nil:
		r.logger.DebugContext(ctx, "duplicate enqueue skipped", "dedup_key", key, "job_id", existing.ID, "status", existing.Status)
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	priority := r.cfg.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	job := &link.Job{
		Type:           link.JobType(source),
		SourcePlatform: source,
		MaxAttempts:    r.cfg.MaxAttempts,
		Priority:       priority,
		RunAt:          now,
		Payload: link.Payload{
			ProfileID: req.ProfileID,
			SourceURL: d.NormalizedURL,
			Depth:     req.Depth,
			DedupKey:  key,
		},
	}
	err = r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.InsertJob(ctx, job); err != nil {
			return err
		}
		if err := tx.SetIngestionStatus(ctx, req.ProfileID, link.IngestionPending, nil); err != nil {
			return fmt.Errorf("profile %s: %w", req.ProfileID, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	r.logger.InfoContext(ctx, "job enqueued", "job_id", job.ID, "source_url", job.Payload.SourceURL,
		"source", source, "profile_id", req.ProfileID, "depth", req.Depth)
	return job, true, nil
}
