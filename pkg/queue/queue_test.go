package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/merge"
	"github.com/codeGROOVE-dev/biolink/pkg/pipeline"
	"github.com/codeGROOVE-dev/biolink/pkg/store"
	"github.com/codeGROOVE-dev/biolink/pkg/strategy"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// fakeStrategy serves scripted fetch errors, then a page yielding links.
type fakeStrategy struct {
	name  string
	host  string
	links []link.ExtractedLink
	errs  []error
	mu    sync.Mutex
	calls int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Supports(u string) bool { return strings.Contains(u, f.host) }

func (f *fakeStrategy) Fetch(_ context.Context, u string, _ strategy.FetchOptions) (*strategy.RawDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &strategy.RawDocument{URL: u, Body: []byte("<html></html>"), StatusCode: 200}, nil
}

func (f *fakeStrategy) Extract(doc *strategy.RawDocument, _ strategy.ExtractOptions) (*link.ExtractionResult, error) {
	return &link.ExtractionResult{SourceURL: doc.URL, SourcePlatform: f.name, Links: f.links}, nil
}

func (f *fakeStrategy) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	store   *store.Store
	runner  *Runner
	now     *time.Time
	profile *link.Profile
}

func (h *harness) advance(d time.Duration) { *h.now = h.now.Add(d) }

func newHarness(t *testing.T, cfg Config, popts []pipeline.Option, strategies ...strategy.Strategy) *harness {
	t.Helper()
	ctx := context.Background()
	now := start
	clock := func() time.Time { return now }

	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "queue.db"), store.WithClock(clock))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() }) //nolint:errcheck // test cleanup
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	p := &link.Profile{UsernameNormalized: "jane"}
	if err := st.InsertProfile(ctx, p); err != nil {
		t.Fatalf("InsertProfile() error = %v", err)
	}

	pl := pipeline.New(strategy.NewRegistry(strategies...), merge.New(merge.WithClock(clock)), popts...)
	r := New(st, pl, cfg, WithClock(clock), WithJitter(func(time.Duration) time.Duration { return 0 }))
	return &harness{store: st, runner: r, now: &now, profile: p}
}

func linktreeStrategy(errs ...error) *fakeStrategy {
	return &fakeStrategy{
		name: "linktree",
		host: "linktr.ee",
		errs: errs,
		links: []link.ExtractedLink{{
			URL: "https://instagram.com/jane", Title: "Instagram", SourcePlatform: "linktree",
			Evidence: link.Evidence{Sources: []string{"linktree"}, Signals: []string{link.SignalStructuredData}},
		}},
	}
}

func timeout() error {
	return link.Transient("fetch", link.CodeTimeout, context.DeadlineExceeded)
}

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Networks: map[string]link.ScraperConfig{
			"linktree": {MaxConcurrent: 2, MaxJobsPerMinute: 600, Enabled: true},
		},
	}
}

func (h *harness) enqueue(t *testing.T, url string) *link.Job {
	t.Helper()
	j, created, err := h.runner.Enqueue(context.Background(), EnqueueRequest{ProfileID: h.profile.ID, SourceURL: url})
	if err != nil || !created {
		t.Fatalf("Enqueue(%q) = %v, %v, %v", url, j, created, err)
	}
	return j
}

func (h *harness) job(t *testing.T, id string) *link.Job {
	t.Helper()
	j, err := h.store.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job(%s) error = %v", id, err)
	}
	return j
}

func (h *harness) profileState(t *testing.T) *link.Profile {
	t.Helper()
	p, err := h.store.Profile(context.Background(), h.profile.ID)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	return p
}

func TestRetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), nil, linktreeStrategy(timeout(), timeout()))
	job := h.enqueue(t, "https://linktr.ee/artist")

	if p := h.profileState(t); p.IngestionStatus != link.IngestionPending {
		t.Errorf("after enqueue profile status = %q, want pending", p.IngestionStatus)
	}

	var delays []time.Duration
	for range 2 {
		sum, err := h.runner.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if sum.Rescheduled != 1 {
			t.Fatalf("RunOnce() = %+v, want one reschedule", sum)
		}
		j := h.job(t, job.ID)
		if j.Status != link.JobPending {
			t.Errorf("rescheduled job = %+v", j)
		}
		if !strings.Contains(link.Deref(j.LastError), link.CodeTimeout) {
			t.Errorf("LastError = %q, want it to mention %s", link.Deref(j.LastError), link.CodeTimeout)
		}
		delay := j.RunAt.Sub(*h.now)
		delays = append(delays, delay)
		if sum, _ := h.runner.RunOnce(ctx); sum.Claimed != 0 { //nolint:errcheck // only the count matters
			t.Errorf("job claimed before its run_at: %+v", sum)
		}
		h.advance(delay)
	}
	if delays[1] <= delays[0] {
		t.Errorf("reschedule delays %v are not strictly increasing", delays)
	}

	sum, err := h.runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if sum.Succeeded != 1 {
		t.Fatalf("final RunOnce() = %+v, want success", sum)
	}
	j := h.job(t, job.ID)
	if j.Status != link.JobSucceeded || j.Attempts != 3 || j.FinishedAt == nil {
		t.Errorf("job = %+v, want succeeded after 3 attempts", j)
	}
	p := h.profileState(t)
	if p.IngestionStatus != link.IngestionIdle || p.LastIngestionError != nil {
		t.Errorf("profile = %q %q, want idle without error", p.IngestionStatus, link.Deref(p.LastIngestionError))
	}
	links, err := h.store.ProfileLinks(ctx, h.profile.ID)
	if err != nil || len(links) != 1 || links[0].URL != "https://instagram.com/jane" {
		t.Errorf("ProfileLinks() = %+v, %v", links, err)
	}
}

func TestExhaustedAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), nil, linktreeStrategy(timeout(), timeout(), timeout(), nil))
	job := h.enqueue(t, "https://linktr.ee/artist")

	for i := range 3 {
		if _, err := h.runner.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce() #%d error = %v", i, err)
		}
		h.advance(time.Hour)
	}

	j := h.job(t, job.ID)
	if j.Status != link.JobFailed || j.Attempts != 3 {
		t.Fatalf("job = %+v, want failed after 3 attempts", j)
	}
	p := h.profileState(t)
	if p.IngestionStatus != link.IngestionFailed || !strings.Contains(link.Deref(p.LastIngestionError), link.CodeTimeout) {
		t.Errorf("profile = %q %q, want failed with timeout error", p.IngestionStatus, link.Deref(p.LastIngestionError))
	}

	h.advance(24 * time.Hour)
	claimed, err := h.runner.Claim(ctx, 10)
	if err != nil || len(claimed) != 0 {
		t.Errorf("Claim() after exhaustion = %v, %v; want none", claimed, err)
	}
}

func TestFatalErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	gone := link.Fatal("fetch", link.CodeNotFound, errors.New("404"))
	h := newHarness(t, testConfig(), nil, linktreeStrategy(gone))
	job := h.enqueue(t, "https://linktr.ee/deleted")

	sum, err := h.runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if sum.Failed != 1 {
		t.Errorf("RunOnce() = %+v, want one failure", sum)
	}
	if j := h.job(t, job.ID); j.Status != link.JobFailed || j.Attempts != 1 {
		t.Errorf("job = %+v, want failed on first attempt", j)
	}
}

func TestClaimFailsExhaustedJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), nil, linktreeStrategy())
	j := &link.Job{
		Type: link.JobType("linktree"), SourcePlatform: "linktree", Attempts: 3, MaxAttempts: 3,
		Payload: link.Payload{ProfileID: h.profile.ID, SourceURL: "https://linktr.ee/old", DedupKey: "linktree:linktr.ee/old"},
	}
	if err := h.store.InsertJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	claimed, err := h.runner.Claim(ctx, 5)
	if err != nil || len(claimed) != 0 {
		t.Errorf("Claim() = %v, %v; want none", claimed, err)
	}
	if got := h.job(t, j.ID); got.Status != link.JobFailed {
		t.Errorf("job status = %q, want failed", got.Status)
	}
	if p := h.profileState(t); p.IngestionStatus != link.IngestionFailed {
		t.Errorf("profile status = %q, want failed", p.IngestionStatus)
	}
}

func TestEnqueueDedup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	h := newHarness(t, cfg, nil, linktreeStrategy())
	first := h.enqueue(t, "https://linktr.ee/Artist/")

	if !strings.HasPrefix(first.Payload.DedupKey, h.profile.ID+"|linktree:linktr.ee/") {
		t.Errorf("DedupKey = %q", first.Payload.DedupKey)
	}

	other := &link.Profile{UsernameNormalized: "sam"}
	if err := h.store.InsertProfile(ctx, other); err != nil {
		t.Fatal(err)
	}
	theirs, created, err := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: other.ID, SourceURL: "https://linktr.ee/Artist"})
	if err != nil || !created || theirs.ID == first.ID {
		t.Errorf("Enqueue(other profile) = %v, %v, %v; want a separate job", theirs, created, err)
	}

	dup, created, err := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: h.profile.ID, SourceURL: "https://www.linktr.ee/Artist?utm_source=ig"})
	if err != nil || created || dup.ID != first.ID {
		t.Errorf("Enqueue(pending duplicate) = %v, %v, %v; want existing job", dup, created, err)
	}

	if _, err := h.runner.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	h.advance(30 * time.Minute)
	if _, created, _ := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: h.profile.ID, SourceURL: "https://linktr.ee/Artist"}); created { //nolint:errcheck // only the flag matters
		t.Error("Enqueue() within dedup window created a job")
	}
	h.advance(time.Hour)
	if _, created, err := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: h.profile.ID, SourceURL: "https://linktr.ee/Artist"}); err != nil || !created {
		t.Errorf("Enqueue() after dedup window = %v, %v; want created", created, err)
	}

	if _, _, err := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: h.profile.ID, SourceURL: "not a url"}); !link.IsFatal(err) || link.CodeOf(err) != link.CodeInvalidURL {
		t.Errorf("Enqueue(invalid) error = %v, want INVALID_URL", err)
	}
	if _, _, err := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: h.profile.ID, SourceURL: "https://example.com/page"}); link.CodeOf(err) != link.CodeUnsupported {
		t.Errorf("Enqueue(unsupported) error = %v, want UNSUPPORTED_SOURCE", err)
	}
}

func TestBackoffGrowth(t *testing.T) {
	r := New(nil, nil, Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	var got []time.Duration
	for attempts := 1; attempts <= 6; attempts++ {
		got = append(got, r.Backoff(attempts))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got[i], want[i])
		}
	}
	if d := r.Backoff(200); d != 10*time.Second {
		t.Errorf("Backoff(200) = %v, want cap", d)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), nil, linktreeStrategy(link.Fatal("fetch", link.CodeNotFound, errors.New("404"))))
	job := h.enqueue(t, "https://linktr.ee/artist")

	if err := h.runner.Reset(ctx, job.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Reset(pending) error = %v, want ErrNotFailed", err)
	}
	if _, err := h.runner.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.runner.Reset(ctx, job.ID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	j := h.job(t, job.ID)
	if j.Status != link.JobPending || j.Attempts != 0 || j.LastError != nil {
		t.Errorf("reset job = %+v", j)
	}
	if p := h.profileState(t); p.IngestionStatus != link.IngestionPending || p.LastIngestionError != nil {
		t.Errorf("profile after reset = %q %q", p.IngestionStatus, link.Deref(p.LastIngestionError))
	}
	if err := h.runner.Reset(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Reset(missing) error = %v, want store.ErrNotFound", err)
	}

	sum, err := h.runner.RunOnce(ctx)
	if err != nil || sum.Succeeded != 1 {
		t.Errorf("RunOnce() after reset = %+v, %v; want success", sum, err)
	}
	stats, err := h.runner.Stats(ctx)
	if err != nil || stats[link.JobSucceeded] != 1 {
		t.Errorf("Stats() = %v, %v", stats, err)
	}
}

func TestDisabledNetworkDefers(t *testing.T) {
	ctx := context.Background()
	fake := linktreeStrategy()
	h := newHarness(t, testConfig(), nil, fake)
	off := link.DefaultScraperConfig("linktree")
	off.Enabled = false
	if err := h.store.UpsertScraperConfig(ctx, off); err != nil {
		t.Fatal(err)
	}
	job := h.enqueue(t, "https://linktr.ee/artist")

	sum, err := h.runner.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Claimed != 0 || sum.Released != 1 || fake.fetches() != 0 {
		t.Errorf("RunOnce() = %+v with %d fetches, want one deferral and no fetch", sum, fake.fetches())
	}
	if j := h.job(t, job.ID); j.Status != link.JobPending || j.Attempts != 0 || !j.RunAt.Equal(h.now.Add(time.Minute)) {
		t.Errorf("deferred job = %+v", j)
	}
}

func TestRateLimitReleases(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Networks["linktree"] = link.ScraperConfig{MaxConcurrent: 1, MaxJobsPerMinute: 1, Enabled: true}
	fake := linktreeStrategy()
	h := newHarness(t, cfg, nil, fake)
	h.enqueue(t, "https://linktr.ee/one")
	h.enqueue(t, "https://linktr.ee/two")

	sum, err := h.runner.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Released != 1 || fake.fetches() != 1 {
		t.Fatalf("RunOnce() = %+v with %d fetches, want one success and one release", sum, fake.fetches())
	}

	claimed, err := h.store.ClaimableJobs(ctx, h.now.Add(59*time.Second), 10)
	if err != nil || len(claimed) != 0 {
		t.Errorf("released job due too early: %v, %v", claimed, err)
	}
	h.advance(2 * time.Minute)
	sum, err = h.runner.RunOnce(ctx)
	if err != nil || sum.Succeeded != 1 {
		t.Errorf("RunOnce() later = %+v, %v; want success", sum, err)
	}
}

func TestSharedBudgetAcrossRunners(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Networks["linktree"] = link.ScraperConfig{MaxConcurrent: 1, MaxJobsPerMinute: 1, Enabled: true}
	fake := linktreeStrategy()
	h := newHarness(t, cfg, nil, fake)

	runners := []*Runner{h.runner}
	for range 2 {
		runners = append(runners, New(h.store, h.runner.pipeline, cfg, WithClock(h.runner.now)))
	}
	executed := 0
	for i, r := range runners {
		h.enqueue(t, fmt.Sprintf("https://linktr.ee/artist%d", i))
		sum, err := r.RunOnce(ctx)
		if err != nil {
			t.Fatalf("runner %d RunOnce() error = %v", i, err)
		}
		executed += sum.Succeeded
		h.advance(time.Second)
	}
	if executed != 1 || fake.fetches() != 1 {
		t.Errorf("three runners executed %d jobs with %d fetches, want 1 per minute overall", executed, fake.fetches())
	}

	h.advance(time.Minute)
	sum, err := runners[2].RunOnce(ctx)
	if err != nil || sum.Succeeded != 1 {
		t.Errorf("RunOnce() a minute later = %+v, %v; want one more job", sum, err)
	}
}

func TestExpiredClaimRecovered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), nil, linktreeStrategy())
	job := h.enqueue(t, "https://linktr.ee/artist")

	// A runner claims the job and dies before executing it.
	if claimed, err := h.runner.Claim(ctx, 1); err != nil || len(claimed) != 1 {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}
	if dup, created, err := h.runner.Enqueue(ctx, EnqueueRequest{ProfileID: h.profile.ID, SourceURL: "https://linktr.ee/artist"}); err != nil || created || dup.ID != job.ID {
		t.Errorf("Enqueue() during claim = %v, %v, %v; want the claimed job", dup, created, err)
	}
	if err := h.runner.Reset(ctx, job.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Reset(processing) error = %v, want ErrNotFailed", err)
	}

	h.advance(10 * time.Minute)
	if claimed, err := h.runner.Claim(ctx, 5); err != nil || len(claimed) != 0 {
		t.Errorf("Claim() within the lease = %v, %v; want none", claimed, err)
	}
	if j := h.job(t, job.ID); j.Status != link.JobProcessing {
		t.Errorf("job within the lease = %q, want processing", j.Status)
	}

	h.advance(7 * 24 * time.Hour)
	sum, err := h.runner.RunOnce(ctx)
	if err != nil || sum.Succeeded != 1 {
		t.Fatalf("RunOnce() after the lease = %+v, %v; want the job recovered and run", sum, err)
	}
	if j := h.job(t, job.ID); j.Status != link.JobSucceeded || j.Attempts != 2 {
		t.Errorf("recovered job = %+v, want succeeded on attempt 2", j)
	}
	if p := h.profileState(t); p.IngestionStatus != link.IngestionIdle {
		t.Errorf("profile status = %q, want idle", p.IngestionStatus)
	}
}

func TestExpiredClaimExhausted(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	h := newHarness(t, cfg, nil, linktreeStrategy())
	job := h.enqueue(t, "https://linktr.ee/artist")
	if claimed, err := h.runner.Claim(ctx, 1); err != nil || len(claimed) != 1 {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}

	h.advance(time.Hour)
	if claimed, err := h.runner.Claim(ctx, 5); err != nil || len(claimed) != 0 {
		t.Errorf("Claim() = %v, %v; want none", claimed, err)
	}
	j := h.job(t, job.ID)
	if j.Status != link.JobFailed || !strings.Contains(link.Deref(j.LastError), "claim expired") {
		t.Errorf("job = %+v, want failed with an expired claim", j)
	}
	if p := h.profileState(t); p.IngestionStatus != link.IngestionFailed {
		t.Errorf("profile status = %q, want failed", p.IngestionStatus)
	}
}

// cancelOnClaim cancels the run as soon as a job is claimed.
type cancelOnClaim struct {
	nopObserver
	cancel context.CancelFunc
}

func (c cancelOnClaim) JobClaimed(string) { c.cancel() }

func TestClaimErrorReleasesClaimed(t *testing.T) {
	cfg := testConfig()
	cfg.Networks["linktree"] = link.ScraperConfig{MaxConcurrent: 1, MaxJobsPerMinute: 600, Enabled: true}
	fake := linktreeStrategy()
	h := newHarness(t, cfg, nil, fake)
	jobs := []*link.Job{h.enqueue(t, "https://linktr.ee/one"), h.enqueue(t, "https://linktr.ee/two")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(h.store, h.runner.pipeline, cfg, WithClock(h.runner.now), WithObserver(cancelOnClaim{cancel: cancel}))

	sum, err := r.RunOnce(ctx)
	if err == nil {
		t.Fatalf("RunOnce() = %+v, want a claim error after cancel", sum)
	}
	if sum.Released != 1 || fake.fetches() != 0 {
		t.Errorf("RunOnce() = %+v with %d fetches, want the claimed job released unrun", sum, fake.fetches())
	}
	for _, job := range jobs {
		if j := h.job(t, job.ID); j.Status != link.JobPending || j.Attempts != 0 {
			t.Errorf("job after claim error = %+v, want pending with no attempt used", j)
		}
	}
}

func TestFollowUps(t *testing.T) {
	ctx := context.Background()
	lt := linktreeStrategy()
	lt.links = append(lt.links, link.ExtractedLink{URL: "https://stan.store/jane", SourcePlatform: "linktree",
		Evidence: link.Evidence{Sources: []string{"linktree"}, Signals: []string{link.SignalAnchorTag}}})
	stan := &fakeStrategy{name: "stan", host: "stan.store", links: []link.ExtractedLink{
		{URL: "https://linktr.ee/jane", SourcePlatform: "stan"},
	}}
	cfg := testConfig()
	cfg.Networks["stan"] = link.ScraperConfig{MaxConcurrent: 1, MaxJobsPerMinute: 600, Enabled: true}
	h := newHarness(t, cfg, []pipeline.Option{pipeline.WithMaxDepth(1)}, lt, stan)
	h.enqueue(t, "https://linktr.ee/jane")

	if _, err := h.runner.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	claimable, err := h.store.ClaimableJobs(ctx, *h.now, 10)
	if err != nil || len(claimable) != 1 {
		t.Fatalf("ClaimableJobs() = %v, %v; want the follow-up", claimable, err)
	}
	fu := claimable[0]
	if fu.SourcePlatform != "stan" || fu.Payload.Depth != 1 || fu.Payload.SourceURL != "https://stan.store/jane" {
		t.Errorf("follow-up job = %+v", fu)
	}

	if _, err := h.runner.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if stats, _ := h.runner.Stats(ctx); stats[link.JobPending] != 0 || stats[link.JobSucceeded] != 2 { //nolint:errcheck // map checked
		t.Errorf("Stats() = %v, want two succeeded and nothing pending at max depth", stats)
	}
}
