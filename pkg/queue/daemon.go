package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a batch every minute.
const DefaultSchedule = "@every 1m"

// Run invokes RunOnce on the cron schedule until ctx is done. A batch still
// running when the next tick fires causes that tick to be skipped.
func (r *Runner) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "batch failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	r.logger.InfoContext(ctx, "runner started", "schedule", schedule, "batch_size", r.cfg.BatchSize)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.InfoContext(context.WithoutCancel(ctx), "runner stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug(msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}
