package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
	"github.com/codeGROOVE-dev/biolink/pkg/platform"
	"github.com/codeGROOVE-dev/biolink/pkg/queue"
)

// withApp loads config, wires the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, g *globals, reg prometheus.Registerer, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close failed", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

func migrateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
				a.logger.InfoContext(ctx, "schema ready", "driver", a.cfg.Database.Driver)
				return nil
			})
		},
	}
}

func addProfileCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "add-profile <username>",
		Short: "Create an empty profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				p := &link.Profile{UsernameNormalized: args[0]}
				if err := a.store.InsertProfile(ctx, p); err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func enqueueCommand(g *globals) *cobra.Command {
	var (
		sourcePlatform string
		priority       int
	)
	cmd := &cobra.Command{
		Use:   "enqueue <profile-id> <url>",
		Short: "Queue an import of a link-in-bio page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				req := queue.EnqueueRequest{ProfileID: args[0], SourceURL: args[1], SourcePlatform: sourcePlatform}
				if cmd.Flags().Changed("priority") {
					req.Priority = &priority
				}
				job, created, err := a.runner.Enqueue(ctx, req)
				if err != nil {
					return err
				}
				if !created {
					a.logger.InfoContext(ctx, "matching job already queued", "job_id", job.ID)
				}
				return outputJSON(cmd.OutOrStdout(), job)
			})
		},
	}
	cmd.Flags().StringVar(&sourcePlatform, "platform", "", "source platform (detected from the URL when empty)")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority; higher runs first")
	return cmd
}

func runCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process one batch of due jobs and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				sum, err := a.runner.RunOnce(ctx)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func daemonCommand(g *globals) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Process jobs on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			return withApp(cmd, g, reg, func(ctx context.Context, a *app) error {
				if schedule == "" {
					schedule = a.cfg.Runner.Schedule
				}
				if addr := a.cfg.Metrics.Addr; addr != "" {
					srv := serveMetrics(ctx, a, addr, reg)
					defer func() {
						sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
						defer cancel()
						if err := srv.Shutdown(sctx); err != nil {
							a.logger.Warn("metrics server shutdown", "error", err)
						}
					}()
				}
				return a.runner.Run(ctx, schedule)
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (default from config)")
	return cmd
}

func serveMetrics(ctx context.Context, a *app, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.InfoContext(ctx, "serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.ErrorContext(ctx, "metrics server failed", "error", err)
		}
	}()
	return srv
}

func resetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <job-id>",
		Short: "Return a failed job to pending with attempts cleared",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				if err := a.runner.Reset(ctx, args[0]); err != nil {
					return err
				}
				a.logger.InfoContext(ctx, "job reset", "job_id", args[0])
				return nil
			})
		},
	}
}

func statsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				counts, err := a.runner.Stats(ctx)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
}

func linksCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "links <profile-id>",
		Short: "List a profile's links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				links, err := a.store.ProfileLinks(ctx, args[0])
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), links)
			})
		},
	}
}

func acceptCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <link-id>",
		Short: "Promote a suggested link to active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				l, err := a.store.AcceptLink(ctx, args[0])
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), l)
			})
		},
	}
}

func dismissCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <link-id>",
		Short: "Reject a suggested link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, nil, func(ctx context.Context, a *app) error {
				l, err := a.store.DismissLink(ctx, args[0])
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), l)
			})
		},
	}
}

// detection is the detect command's output.
type detection struct {
	Platform       string `json:"platform"`
	NormalizedURL  string `json:"normalized_url,omitempty"`
	SuggestedTitle string `json:"suggested_title,omitempty"`
	CanonicalKey   string `json:"canonical_key,omitempty"`
	Valid          bool   `json:"valid"`
}

func detectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <url>...",
		Short: "Show platform detection and canonical identity for URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]detection, 0, len(args))
			for _, raw := range args {
				d := platform.Detect(raw)
				det := detection{
					Platform:       d.Platform,
					NormalizedURL:  d.NormalizedURL,
					SuggestedTitle: d.SuggestedTitle,
					Valid:          d.IsValid,
				}
				if d.IsValid {
					det.CanonicalKey = platform.CanonicalIdentity(d.Platform, d.NormalizedURL)
				}
				out = append(out, det)
			}
			return outputJSON(cmd.OutOrStdout(), out)
		},
	}
}

func extractCommand(g *globals) *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Fetch a page and print extracted links without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newPipeline(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // cache only

			job := &link.Job{Payload: link.Payload{SourceURL: args[0]}}
			doc, s, err := a.pipeline.Fetch(ctx, job)
			if err != nil {
				return err
			}
			sc := link.DefaultScraperConfig(s.Name())
			if n, ok := cfg.ScraperConfigs()[s.Name()]; ok {
				sc = n
			}
			if policy != "" {
				sc.Strategy = policy
			}
			res, err := a.pipeline.Extract(s, doc, sc)
			if err != nil {
				return fmt.Errorf("extract %s: %w", args[0], err)
			}
			return outputJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "extraction policy: auto, structured or anchors")
	return cmd
}
