// Package merge folds an extraction result into a profile's stored links
// without clobbering human edits or losing provenance.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/codeGROOVE-dev/biolink/pkg/confidence"
	"github.com/codeGROOVE-dev/biolink/pkg/enrich"
	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
)

// Repository is the storage the engine writes through, normally a store.Tx.
type Repository interface {
	// ProfileLinks returns the profile's links ordered by sort order.
	ProfileLinks(ctx context.Context, profileID string) ([]link.Link, error)
	InsertLink(ctx context.Context, l *link.Link) error
	UpdateLink(ctx context.Context, l *link.Link) error
	UpdateProfileEnrichment(ctx context.Context, profileID string, displayName, avatarURL *string) error
}

// Counts summarizes one merge.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Counts struct {
	Inserted int `json:"inserted"`
	// Updated counts every candidate that matched an existing link,
	// re-confirmations included.
	Updated int `json:"updated"`
	// Unchanged is the part of Updated whose row needed no write.
	Unchanged int `json:"unchanged"`
	// Skipped counts invalid candidates and in-batch duplicates.
	Skipped         int  `json:"skipped"`
	ProfileEnriched bool `json:"profile_enriched"`
	// Errors holds a link.KindPartial error per invalid candidate.
	Errors []error `json:"-"`
}

// Engine merges extraction results.
type Engine struct {
	logger      *slog.Logger
	now         func() time.Time
	resolver    enrich.Resolver
	autoPromote bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithResolver sets the enrichment resolver.
func WithResolver(r enrich.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithAutoPromote lets ingested links scoring at or above
// confidence.ActivateAt become active without review.
func WithAutoPromote(enabled bool) Option {
	return func(e *Engine) { e.autoPromote = enabled }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Auto-promotion is off unless enabled.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MergeExtraction applies res to profile's links through repo. Candidate-level
// problems are logged and counted as skipped; repository errors are returned.
func (e *Engine) MergeExtraction(ctx context.Context, repo Repository, profile link.Profile, res *link.ExtractionResult) (Counts, error) {
	var counts Counts
	if res == nil {
		return counts, nil
	}

	existing, err := repo.ProfileLinks(ctx, profile.ID)
	if err != nil {
		return counts, fmt.Errorf("load links: %w", err)
	}

	byKey := make(map[string]*link.Link, len(existing))
	nextSort := 0
	for i := range existing {
		l := &existing[i]
		nextSort = max(nextSort, l.SortOrder+1)
		key, ok := platform.Key(l.URL)
		if !ok {
			e.logger.DebugContext(ctx, "existing link not parseable, leaving untouched", "link_id", l.ID, "url", l.URL)
			continue
		}
		if _, dup := byKey[key]; !dup {
			byKey[key] = l
		}
	}

	handled := make(map[string]bool, len(res.Links))
	for _, cand := range res.Links {
		d := platform.Detect(cand.URL)
		if !d.IsValid {
			perr := link.Partial("merge", fmt.Errorf("candidate %q is not a valid http(s) URL", cand.URL))
			counts.Skipped++
			counts.Errors = append(counts.Errors, perr)
			e.logger.DebugContext(ctx, "skipping candidate", "profile_id", profile.ID, "error", perr)
			continue
		}
		key := platform.CanonicalIdentity(d.Platform, d.NormalizedURL)
		if handled[key] {
			counts.Skipped++
			continue
		}
		handled[key] = true

		ev := candidateEvidence(cand, res.SourcePlatform)

		if row, ok := byKey[key]; ok {
			updated, err := e.mergeExisting(ctx, repo, profile, row, d, cand, ev)
			if err != nil {
				return counts, err
			}
			counts.Updated++
			if !updated {
				counts.Unchanged++
			}
			continue
		}

		l := e.newLink(profile, d, key, cand, ev, res.SourcePlatform, nextSort)
		if err := repo.InsertLink(ctx, l); err != nil {
			return counts, fmt.Errorf("insert link %s: %w", key, err)
		}
		nextSort++
		counts.Inserted++
		byKey[key] = l
	}

	enriched, err := e.enrich(ctx, repo, profile, res)
	if err != nil {
		return counts, err
	}
	counts.ProfileEnriched = enriched

	e.logger.InfoContext(ctx, "merged extraction",
		"profile_id", profile.ID, "source", res.SourcePlatform,
		"inserted", counts.Inserted, "updated", counts.Updated,
		"unchanged", counts.Unchanged, "skipped", counts.Skipped)
	return counts, nil
}

func candidateEvidence(cand link.ExtractedLink, fallbackSource string) link.Evidence {
	ev := link.Evidence{}.Merge(cand.Evidence)
	if len(ev.Sources) == 0 {
		src := cand.SourcePlatform
		if src == "" {
			src = fallbackSource
		}
		ev.Sources = []string{src}
	}
	return ev
}

func (e *Engine) newLink(profile link.Profile, d platform.Detection, key string, cand link.ExtractedLink, ev link.Evidence, source string, sortOrder int) *link.Link {
	r := confidence.Compute(confidence.Input{
		SourceType:    link.SourceIngested,
		Signals:       ev.Signals,
		Sources:       ev.Sources,
		Username:      profile.UsernameNormalized,
		NormalizedURL: d.NormalizedURL,
	})
	state := link.StateSuggested
	if r.State == link.StateActive && e.autoPromote {
		state = link.StateActive
	}
	title := cand.Title
	if title == "" {
		title = d.SuggestedTitle
	}
	if cand.SourcePlatform != "" {
		source = cand.SourcePlatform
	}
	now := e.now()
	return &link.Link{
		ProfileID:      profile.ID,
		Platform:       d.Platform,
		URL:            d.NormalizedURL,
		CanonicalKey:   key,
		DisplayText:    link.StringPtr(title),
		SortOrder:      sortOrder,
		State:          state,
		Confidence:     r.Confidence,
		SourceType:     link.SourceIngested,
		SourcePlatform: source,
		Evidence:       ev,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// mergeExisting updates row in place and writes it if anything changed.
func (e *Engine) mergeExisting(ctx context.Context, repo Repository, profile link.Profile, row *link.Link, d platform.Detection, cand link.ExtractedLink, ev link.Evidence) (bool, error) {
	before := *row
	before.Evidence = link.Evidence{Sources: slices.Clone(row.Evidence.Sources), Signals: slices.Clone(row.Evidence.Signals)}

	merged := row.Evidence.Merge(ev)
	ingested := row.SourceType == link.SourceIngested

	switch {
	case row.State == link.StateRejected && ingested && hasNewSource(row.Evidence, ev):
		// A previously dismissed link seen from a new source is offered again.
		r := confidence.Compute(confidence.Input{
			SourceType:    row.SourceType,
			Signals:       merged.Signals,
			Sources:       merged.Sources,
			Username:      profile.UsernameNormalized,
			NormalizedURL: d.NormalizedURL,
		})
		row.State = link.StateSuggested
		row.Confidence = r.Confidence
		e.logger.InfoContext(ctx, "re-suggesting dismissed link", "link_id", row.ID, "url", row.URL)
	case row.State == link.StateRejected:
		// Dismissed rows only collect evidence.
	default:
		floor := row.Confidence
		r := confidence.Compute(confidence.Input{
			SourceType:    row.SourceType,
			Signals:       merged.Signals,
			Sources:       merged.Sources,
			Username:      profile.UsernameNormalized,
			NormalizedURL: d.NormalizedURL,
			Existing:      &floor,
		})
		row.Confidence = r.Confidence
		if ingested && row.State == link.StateSuggested && r.State == link.StateActive && e.autoPromote {
			row.State = link.StateActive
		}
	}

	row.Evidence = merged
	if ingested && row.State != link.StateRejected {
		row.URL = d.NormalizedURL
		row.Platform = d.Platform
		if cand.Title != "" {
			row.DisplayText = link.StringPtr(cand.Title)
		}
	}

	if !changed(before, *row) {
		*row = before
		return false, nil
	}
	row.UpdatedAt = e.now()
	if err := repo.UpdateLink(ctx, row); err != nil {
		return false, fmt.Errorf("update link %s: %w", row.ID, err)
	}
	return true, nil
}

func hasNewSource(have, incoming link.Evidence) bool {
	for _, s := range incoming.Sources {
		if !have.HasSource(s) {
			return true
		}
	}
	return false
}

func changed(a, b link.Link) bool {
	return a.URL != b.URL ||
		a.Platform != b.Platform ||
		link.Deref(a.DisplayText) != link.Deref(b.DisplayText) ||
		a.State != b.State ||
		a.Confidence != b.Confidence ||
		!slices.Equal(a.Evidence.Sources, b.Evidence.Sources) ||
		!slices.Equal(a.Evidence.Signals, b.Evidence.Signals)
}

func (e *Engine) enrich(ctx context.Context, repo Repository, profile link.Profile, res *link.ExtractionResult) (bool, error) {
	name, nameChanged := e.resolver.Resolve(enrich.DisplayName, profile.DisplayName, profile.DisplayNameLocked,
		[]enrich.Candidate{{Value: res.DisplayName, Source: res.SourcePlatform}})
	avatar, avatarChanged := e.resolver.Resolve(enrich.AvatarURL, profile.AvatarURL, profile.AvatarLocked,
		[]enrich.Candidate{{Value: res.AvatarURL, Source: res.SourcePlatform}})
	if !nameChanged && !avatarChanged {
		return false, nil
	}
	if err := repo.UpdateProfileEnrichment(ctx, profile.ID, name, avatar); err != nil {
		return false, fmt.Errorf("update profile enrichment: %w", err)
	}
	e.logger.InfoContext(ctx, "enriched profile", "profile_id", profile.ID,
		"display_name_changed", nameChanged, "avatar_changed", avatarChanged)
	return true, nil
}
