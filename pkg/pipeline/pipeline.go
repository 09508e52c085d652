// Package pipeline glues the extraction strategies to the merge engine:
// fetch a source page, extract candidates, merge them into a profile.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/merge"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
	"github.com/codeGROOVE-dev/biolink/pkg/strategy"
)

// DefaultMaxDepth disables recursive discovery.
const DefaultMaxDepth = 0

// Result is the observable outcome of one job.
type Result struct {
	SourceURL       string `json:"source_url"`
	ExtractedLinks  int    `json:"extracted_links"`
	Inserted        int    `json:"inserted"`
	Updated         int    `json:"updated"`
	Unchanged       int    `json:"unchanged"`
	Skipped         int    `json:"skipped"`
	ProfileEnriched bool   `json:"profile_enriched"`
}

// FollowUp is a further source page discovered among extracted links.
type FollowUp struct {
	SourceURL      string
	SourcePlatform string
	Depth          int
}

// Pipeline runs fetch, extract and merge for ingestion jobs.
type Pipeline struct {
	registry *strategy.Registry
	engine   *merge.Engine
	logger   *slog.Logger
	fetch    strategy.FetchOptions
	maxDepth int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithFetchOptions sets the timeout, byte cap and retries for every fetch.
func WithFetchOptions(o strategy.FetchOptions) Option {
	return func(p *Pipeline) { p.fetch = o }
}

// WithMaxDepth enables recursive discovery up to depth d.
func WithMaxDepth(d int) Option {
	return func(p *Pipeline) { p.maxDepth = d }
}

// New creates a Pipeline.
func New(registry *strategy.Registry, engine *merge.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		engine:   engine,
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Strategy resolves the strategy for a job: by source platform first, then by URL.
func (p *Pipeline) Strategy(sourcePlatform, sourceURL string) (strategy.Strategy, error) {
	if s, ok := p.registry.Lookup(sourcePlatform); ok {
		return s, nil
	}
	s, err := p.registry.Match(sourceURL)
	if err != nil {
		return nil, link.Fatal("resolve strategy", link.CodeUnsupported, fmt.Errorf("%s: %w", sourceURL, err))
	}
	return s, nil
}

// Fetch retrieves the job's source page. It performs network I/O and must
// not run inside a write transaction.
func (p *Pipeline) Fetch(ctx context.Context, job *link.Job) (*strategy.RawDocument, strategy.Strategy, error) {
	src := job.Payload.SourceURL
	s, err := p.Strategy(job.SourcePlatform, src)
	if err != nil {
		return nil, nil, err
	}
	if !s.Supports(src) {
		return nil, nil, link.InvalidURL("fetch", src, fmt.Errorf("not a %s page", s.Name()))
	}

	p.logger.DebugContext(ctx, "fetching source", "job_id", job.ID, "url", src, "strategy", s.Name())
	doc, err := s.Fetch(ctx, src, p.fetch)
	if err != nil {
		return nil, s, fmt.Errorf("fetch %s: %w", src, err)
	}
	return doc, s, nil
}

// Extract runs the strategy's extraction under the network's policy.
func (p *Pipeline) Extract(s strategy.Strategy, doc *strategy.RawDocument, cfg link.ScraperConfig) (*link.ExtractionResult, error) {
	res, err := s.Extract(doc, strategy.ExtractOptions{Logger: p.logger, Policy: cfg.Strategy})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", doc.URL, err)
	}
	return res, nil
}

// Merge folds res into the profile through repo, normally an open store.Tx.
func (p *Pipeline) Merge(ctx context.Context, repo merge.Repository, profile link.Profile, res *link.ExtractionResult) (Result, error) {
	r := Result{}
	if res != nil {
		r.SourceURL = res.SourceURL
		r.ExtractedLinks = len(res.Links)
	}
	counts, err := p.engine.MergeExtraction(ctx, repo, profile, res)
	if err != nil {
		return r, err
	}
	r.Inserted = counts.Inserted
	r.Updated = counts.Updated
	r.Unchanged = counts.Unchanged
	r.Skipped = counts.Skipped
	r.ProfileEnriched = counts.ProfileEnriched
	return r, nil
}

// FollowUps lists extracted links that another registered strategy can
// ingest, when the job is still below the maximum discovery depth.
func (p *Pipeline) FollowUps(job *link.Job, res *link.ExtractionResult) []FollowUp {
	if res == nil || job.Payload.Depth >= p.maxDepth {
		return nil
	}
	self, _ := platform.Key(job.Payload.SourceURL)
	seen := map[string]bool{self: true}

	var out []FollowUp
	for _, l := range res.Links {
		d := platform.Detect(l.URL)
		if !d.IsValid {
			continue
		}
		key := platform.CanonicalIdentity(d.Platform, d.NormalizedURL)
		if seen[key] {
			continue
		}
		seen[key] = true
		s, err := p.registry.Match(d.NormalizedURL)
		if err != nil {
			continue
		}
		out = append(out, FollowUp{SourceURL: d.NormalizedURL, SourcePlatform: s.Name(), Depth: job.Payload.Depth + 1})
	}
	return out
}
