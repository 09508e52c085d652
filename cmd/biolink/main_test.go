package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/biolink/pkg/config"
	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestDetect(t *testing.T) {
	out, err := execute(t, "detect", "https://www.instagram.com/JaneDoe/?utm_source=linktree", "not a url")
	if err != nil {
		t.Fatalf("detect error = %v", err)
	}
	var got []detection
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 2 {
		t.Fatalf("detect returned %d results, want 2", len(got))
	}
	if got[0].Platform != "instagram" || got[0].NormalizedURL != "https://instagram.com/janedoe" || !got[0].Valid || got[0].CanonicalKey == "" {
		t.Errorf("detect(instagram) = %+v", got[0])
	}
	if got[1].Valid || got[1].CanonicalKey != "" {
		t.Errorf("detect(invalid) = %+v, want invalid without key", got[1])
	}
}

func TestQueueCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("BIOLINK_DATABASE_DRIVER", "sqlite")
	t.Setenv("BIOLINK_DATABASE_DSN", filepath.Join(dir, "biolink.db"))

	if _, err := execute(t, "migrate"); err != nil {
		t.Fatalf("migrate error = %v", err)
	}

	out, err := execute(t, "add-profile", "jane")
	if err != nil {
		t.Fatalf("add-profile error = %v", err)
	}
	var p link.Profile
	if err := json.Unmarshal([]byte(out), &p); err != nil || p.ID == "" {
		t.Fatalf("add-profile output %q: %v", out, err)
	}

	var jobs []link.Job
	for range 2 {
		out, err := execute(t, "enqueue", p.ID, "https://linktr.ee/jane")
		if err != nil {
			t.Fatalf("enqueue error = %v", err)
		}
		var j link.Job
		if err := json.Unmarshal([]byte(out), &j); err != nil {
			t.Fatalf("enqueue output %q: %v", out, err)
		}
		jobs = append(jobs, j)
	}
	if jobs[0].ID != jobs[1].ID {
		t.Errorf("second enqueue created job %s, want dedup to %s", jobs[1].ID, jobs[0].ID)
	}
	if jobs[0].Type != "import_linktree" || jobs[0].Status != link.JobPending {
		t.Errorf("job = %+v, want pending import_linktree", jobs[0])
	}

	out, err = execute(t, "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	var counts map[link.JobStatus]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("stats output %q: %v", out, err)
	}
	if counts[link.JobPending] != 1 {
		t.Errorf("pending = %d, want 1", counts[link.JobPending])
	}

	if _, err := execute(t, "reset", jobs[0].ID); err == nil {
		t.Error("reset of pending job error = nil")
	}
	if _, err := execute(t, "enqueue", p.ID, "https://example.com/jane"); err == nil {
		t.Error("enqueue of unsupported source error = nil")
	}

	out, err = execute(t, "links", p.ID)
	if err != nil {
		t.Fatalf("links error = %v", err)
	}
	if strings.TrimSpace(out) != "[]" && strings.TrimSpace(out) != "null" {
		t.Errorf("links = %q, want empty", out)
	}
}

func TestExtractUnsupported(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "extract", "https://example.com/jane")
	if link.CodeOf(err) != link.CodeUnsupported {
		t.Errorf("extract error = %v, want %s", err, link.CodeUnsupported)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "text", want: "level=DEBUG msg=hello"},
		{format: "", want: "level=DEBUG msg=hello"},
		{format: "json", want: `"msg":"hello"`},
		{format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, config.Log{Level: "debug", Format: tt.format})
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			logger.Debug("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output = %q, want containing %q", buf.String(), tt.want)
			}
		})
	}
}

func TestGlobalsOverrideConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	g := &globals{debug: true, logFormat: "json"}
	cfg, logger, err := g.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if diff := cmp.Diff(config.Log{Level: "debug", Format: "json"}, cfg.Log); diff != "" {
		t.Errorf("Log mismatch (-want +got):\n%s", diff)
	}
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug logging disabled with --debug")
	}
}

func TestPipelineCache(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := config.Default()
	a, err := newPipeline(t.Context(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("newPipeline() error = %v", err)
	}
	if a.cache != nil {
		t.Error("newPipeline() without cache_dir built a cache")
	}

	cfg.Fetch.CacheDir = t.TempDir()
	cfg.Fetch.CacheTTL = 0
	a, err = newPipeline(t.Context(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("newPipeline(cache_dir) error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() }) //nolint:errcheck // test cleanup
	if a.cache == nil {
		t.Fatal("newPipeline(cache_dir) built no cache")
	}
	if a.cache.TTL() != 24*time.Hour {
		t.Errorf("cache TTL = %v, want the default", a.cache.TTL())
	}
}
