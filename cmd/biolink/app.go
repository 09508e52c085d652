package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeGROOVE-dev/biolink/pkg/config"
	"github.com/codeGROOVE-dev/biolink/pkg/enrich"
	"github.com/codeGROOVE-dev/biolink/pkg/httpcache"
	"github.com/codeGROOVE-dev/biolink/pkg/linktree"
	"github.com/codeGROOVE-dev/biolink/pkg/merge"
	"github.com/codeGROOVE-dev/biolink/pkg/metrics"
	"github.com/codeGROOVE-dev/biolink/pkg/pipeline"
	"github.com/codeGROOVE-dev/biolink/pkg/queue"
	"github.com/codeGROOVE-dev/biolink/pkg/stan"
	"github.com/codeGROOVE-dev/biolink/pkg/store"
	"github.com/codeGROOVE-dev/biolink/pkg/strategy"
)

// app is the wired component graph for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    *httpcache.Cache
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
	store    *store.Store
	runner   *queue.Runner
}

// newPipeline wires fetcher, strategies and merge engine. reg may be nil.
func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Fetch.CacheDir != "" {
		c, err := httpcache.NewCache(cfg.Fetch.CacheTTL, cfg.Fetch.CacheDir)
		if err != nil {
			logger.Warn("failed to initialize cache, continuing without cache", "error", err)
		} else {
			a.cache = c
			logger.Debug("HTTP cache initialized", "dir", cfg.Fetch.CacheDir, "ttl", cfg.Fetch.CacheTTL.String())
		}
	}

	fopts := []httpcache.Option{
		httpcache.WithLogger(logger),
		httpcache.WithMinHostDelay(cfg.Fetch.MinHostDelay),
	}
	// Without a cache directory every job fetches fresh.
	if a.cache != nil {
		fopts = append(fopts, httpcache.WithCache(a.cache))
	}
	if cfg.Fetch.UserAgent != "" {
		fopts = append(fopts, httpcache.WithUserAgent(cfg.Fetch.UserAgent))
	}
	if reg != nil {
		a.metrics = metrics.New(reg)
		fopts = append(fopts, httpcache.WithObserver(a.metrics))
	}
	fetcher := httpcache.New(fopts...)

	lt, err := linktree.New(ctx, linktree.WithFetcher(fetcher), linktree.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("linktree strategy: %w", err)
	}
	st, err := stan.New(ctx, stan.WithFetcher(fetcher), stan.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("stan strategy: %w", err)
	}

	engine := merge.New(
		merge.WithLogger(logger),
		merge.WithAutoPromote(cfg.Merge.AutoPromote),
		merge.WithResolver(enrich.Resolver{
			Priority:          cfg.Enrich.Priority,
			OverwriteExisting: cfg.Enrich.OverwriteExisting,
		}),
	)
	a.pipeline = pipeline.New(strategy.NewRegistry(lt, st), engine,
		pipeline.WithLogger(logger),
		pipeline.WithMaxDepth(cfg.Runner.MaxDepth),
		pipeline.WithFetchOptions(strategy.FetchOptions{
			Timeout:  cfg.Fetch.Timeout,
			MaxBytes: cfg.Fetch.MaxBytes,
			Retries:  cfg.Fetch.Retries,
		}),
	)
	return a, nil
}

// newApp wires the full graph including the store and runner.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a, err := newPipeline(ctx, cfg, logger, reg)
	if err != nil {
		return nil, err
	}

	a.store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, store.WithLogger(logger))
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	qopts := []queue.Option{queue.WithLogger(logger)}
	if a.metrics != nil {
		qopts = append(qopts, queue.WithObserver(a.metrics))
	}
	a.runner = queue.New(a.store, a.pipeline, queue.Config{
		BatchSize:       cfg.Runner.BatchSize,
		MaxAttempts:     cfg.Runner.MaxAttempts,
		BaseDelay:       cfg.Runner.BaseDelay,
		MaxDelay:        cfg.Runner.MaxDelay,
		MaxJitter:       cfg.Runner.MaxJitter,
		DedupWindow:     cfg.Runner.DedupWindow,
		ClaimLease:      cfg.Runner.ClaimLease,
		DefaultPriority: cfg.Runner.DefaultPriority,
		Networks:        cfg.ScraperConfigs(),
	}, qopts...)
	return a, nil
}

// Close releases the store and cache.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}
