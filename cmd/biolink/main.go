// Command biolink ingests link-in-bio pages into creator profiles.
//
// Usage:
//
//	biolink migrate
//	biolink add-profile janedoe
//	biolink enqueue <profile-id> https://linktr.ee/janedoe
//	biolink daemon
//	biolink extract https://stan.store/janedoe   # no database needed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/biolink/pkg/config"
)

// globals holds persistent flag values.
type globals struct {
	configPath string
	logFormat  string
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "biolink",
		Short:         "Ingest Linktree and Stan pages into profile links",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file (BIOLINK_* environment variables override it)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		migrateCommand(g),
		addProfileCommand(g),
		enqueueCommand(g),
		runCommand(g),
		daemonCommand(g),
		resetCommand(g),
		statsCommand(g),
		linksCommand(g),
		acceptCommand(g),
		dismissCommand(g),
		detectCommand(),
		extractCommand(g),
	)
	return root
}

// load reads configuration and builds the logger.
func (g *globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.debug {
		cfg.Log.Level = "debug"
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(w io.Writer, c config.Log) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
