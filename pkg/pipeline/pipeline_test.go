package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/merge"
	"github.com/codeGROOVE-dev/biolink/pkg/strategy"
)

type stubStrategy struct {
	name     string
	host     string
	fetchErr error
	res      *link.ExtractionResult
	policy   string
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Supports(u string) bool { return strings.Contains(u, s.host+"/") }

func (s *stubStrategy) Fetch(_ context.Context, u string, _ strategy.FetchOptions) (*strategy.RawDocument, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return &strategy.RawDocument{URL: u}, nil
}

func (s *stubStrategy) Extract(doc *strategy.RawDocument, opts strategy.ExtractOptions) (*link.ExtractionResult, error) {
	s.policy = opts.Policy
	if s.res == nil {
		return &link.ExtractionResult{SourceURL: doc.URL, SourcePlatform: s.name}, nil
	}
	return s.res, nil
}

// memRepo is an in-memory merge.Repository.
type memRepo struct {
	links []link.Link
}

func (m *memRepo) ProfileLinks(context.Context, string) ([]link.Link, error) {
	return append([]link.Link(nil), m.links...), nil
}

func (m *memRepo) InsertLink(_ context.Context, l *link.Link) error {
	m.links = append(m.links, *l)
	return nil
}

func (m *memRepo) UpdateLink(_ context.Context, l *link.Link) error {
	for i := range m.links {
		if m.links[i].ID == l.ID {
			m.links[i] = *l
		}
	}
	return nil
}

func (*memRepo) UpdateProfileEnrichment(context.Context, string, *string, *string) error { return nil }

func job(src, platform string, depth int) *link.Job {
	return &link.Job{ID: "j1", SourcePlatform: platform, Payload: link.Payload{ProfileID: "p1", SourceURL: src, Depth: depth}}
}

func TestFetch(t *testing.T) {
	lt := &stubStrategy{name: "linktree", host: "linktr.ee"}
	down := &stubStrategy{name: "stan", host: "stan.store", fetchErr: link.Transient("fetch", link.CodeTimeout, context.DeadlineExceeded)}
	p := New(strategy.NewRegistry(lt, down), merge.New())
	ctx := context.Background()

	doc, s, err := p.Fetch(ctx, job("https://linktr.ee/jane", "linktree", 0))
	if err != nil || s.Name() != "linktree" || doc.URL != "https://linktr.ee/jane" {
		t.Errorf("Fetch() = %v, %v, %v", doc, s, err)
	}

	// Unknown source platform falls back to URL matching.
	if _, s, err := p.Fetch(ctx, job("https://linktr.ee/jane", "", 0)); err != nil || s.Name() != "linktree" {
		t.Errorf("Fetch(no platform) = %v, %v", s, err)
	}

	tests := []struct {
		name     string
		job      *link.Job
		wantCode string
		wantKind link.Kind
	}{
		{"unsupported", job("https://example.com/jane", "", 0), link.CodeUnsupported, link.KindFatal},
		{"wrong host for platform", job("https://example.com/jane", "linktree", 0), link.CodeInvalidURL, link.KindFatal},
		{"transient fetch error", job("https://stan.store/jane", "stan", 0), link.CodeTimeout, link.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.Fetch(ctx, tt.job)
			if link.CodeOf(err) != tt.wantCode || link.KindOf(err) != tt.wantKind {
				t.Errorf("Fetch() error = %v, want %s/%s", err, tt.wantKind, tt.wantCode)
			}
		})
	}
}

func TestExtractPassesPolicy(t *testing.T) {
	lt := &stubStrategy{name: "linktree", host: "linktr.ee"}
	p := New(strategy.NewRegistry(lt), merge.New())
	cfg := link.DefaultScraperConfig("linktree")
	cfg.Strategy = link.PolicyAnchors
	if _, err := p.Extract(lt, &strategy.RawDocument{URL: "https://linktr.ee/jane"}, cfg); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if lt.policy != link.PolicyAnchors {
		t.Errorf("policy = %q, want %q", lt.policy, link.PolicyAnchors)
	}
}

func TestMerge(t *testing.T) {
	p := New(strategy.NewRegistry(), merge.New())
	res := &link.ExtractionResult{
		SourceURL:      "https://linktr.ee/jane",
		SourcePlatform: "linktree",
		Links: []link.ExtractedLink{
			{URL: "https://instagram.com/jane", SourcePlatform: "linktree"},
			{URL: "https://instagram.com/jane/", SourcePlatform: "linktree"},
			{URL: "ftp://nope", SourcePlatform: "linktree"},
		},
	}
	got, err := p.Merge(context.Background(), &memRepo{}, link.Profile{ID: "p1", UsernameNormalized: "jane"}, res)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := Result{SourceURL: "https://linktr.ee/jane", ExtractedLinks: 3, Inserted: 1, Skipped: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

type failingRepo struct{ memRepo }

func (*failingRepo) ProfileLinks(context.Context, string) ([]link.Link, error) {
	return nil, errors.New("database is locked")
}

func TestMergePropagatesStoreErrors(t *testing.T) {
	p := New(strategy.NewRegistry(), merge.New())
	res := &link.ExtractionResult{Links: []link.ExtractedLink{{URL: "https://instagram.com/jane"}}}
	if _, err := p.Merge(context.Background(), &failingRepo{}, link.Profile{ID: "p1"}, res); err == nil {
		t.Error("Merge() error = nil, want store error")
	}
}

func TestFollowUps(t *testing.T) {
	lt := &stubStrategy{name: "linktree", host: "linktr.ee"}
	stan := &stubStrategy{name: "stan", host: "stan.store"}
	res := &link.ExtractionResult{Links: []link.ExtractedLink{
		{URL: "https://instagram.com/jane"},
		{URL: "https://stan.store/jane"},
		{URL: "https://stan.store/jane/"},
		{URL: "https://linktr.ee/jane"},
		{URL: "https://linktr.ee/janes-band"},
	}}

	tests := []struct {
		name     string
		maxDepth int
		depth    int
		want     []FollowUp
	}{
		{name: "disabled by default", maxDepth: DefaultMaxDepth},
		{
			name:     "below max depth",
			maxDepth: 2,
			depth:    1,
			want: []FollowUp{
				{SourceURL: "https://stan.store/jane", SourcePlatform: "stan", Depth: 2},
				{SourceURL: "https://linktr.ee/janes-band", SourcePlatform: "linktree", Depth: 2},
			},
		},
		{name: "at max depth", maxDepth: 2, depth: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(strategy.NewRegistry(lt, stan), merge.New(), WithMaxDepth(tt.maxDepth))
			got := p.FollowUps(job("https://linktr.ee/jane", "linktree", tt.depth), res)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FollowUps() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
