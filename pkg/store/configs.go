package store

import (
	"context"
	"fmt"

	"github.com/codeGROOVE-dev/biolink/pkg/link"
)

// ScraperConfigs returns the configured networks ordered by name.
func (q *queries) ScraperConfigs(ctx context.Context) ([]link.ScraperConfig, error) {
	var out []link.ScraperConfig
	if err := q.sel(ctx, &out, `SELECT network, max_concurrent, max_jobs_per_minute, strategy, enabled
		FROM scraper_configs ORDER BY network`); err != nil {
		return nil, fmt.Errorf("load scraper configs: %w", err)
	}
	return out, nil
}

// UpsertScraperConfig creates or replaces the configuration for a network.
func (q *queries) UpsertScraperConfig(ctx context.Context, c link.ScraperConfig) error {
	_, err := q.exec(ctx, `INSERT INTO scraper_configs (network, max_concurrent, max_jobs_per_minute, strategy, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (network) DO UPDATE SET
			max_concurrent = excluded.max_concurrent,
			max_jobs_per_minute = excluded.max_jobs_per_minute,
			strategy = excluded.strategy,
			enabled = excluded.enabled`,
		c.Network, c.MaxConcurrent, c.MaxJobsPerMinute, c.Strategy, c.Enabled)
	if err != nil {
		return fmt.Errorf("upsert scraper config %s: %w", c.Network, err)
	}
	return nil
}
