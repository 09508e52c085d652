package link

import "time"

// JobStatus is the state of an IngestionJob.
type JobStatus string

// Job states. succeeded and failed are terminal.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// JobTypePrefix prefixes the source platform in job types, e.g. "import_linktree".
const JobTypePrefix = "import_"

// JobType returns the job type for a source platform.
func JobType(sourcePlatform string) string { return JobTypePrefix + sourcePlatform }

// Payload is the work description carried by a job.
type Payload struct {
	ProfileID string `json:"profile_id"`
	SourceURL string `json:"source_url"`
	Depth     int    `json:"depth"`
	DedupKey  string `json:"dedup_key"`
}

// Job is a durable ingestion queue entry.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Job struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Payload        Payload    `json:"payload"`
	SourcePlatform string     `json:"source_platform"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	Priority       int        `json:"priority"`
	RunAt          time.Time  `json:"run_at"`
	LastError      *string    `json:"last_error,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Exhausted reports whether the job has used all of its attempts.
func (j *Job) Exhausted() bool { return j.Attempts >= j.MaxAttempts }

// Extraction policies for ScraperConfig.Strategy.
const (
	PolicyAuto       = "auto"
	PolicyStructured = "structured"
	PolicyAnchors    = "anchors"
)

// ScraperConfig holds per-network tuning consumed by the runner. It is owned
// by operators; the pipeline never writes it.
type ScraperConfig struct {
	Network          string `json:"network" yaml:"network" db:"network"`
	MaxConcurrent    int    `json:"max_concurrent" yaml:"max_concurrent" db:"max_concurrent"`
	MaxJobsPerMinute int    `json:"max_jobs_per_minute" yaml:"max_jobs_per_minute" db:"max_jobs_per_minute"`
	Strategy         string `json:"strategy" yaml:"strategy" db:"strategy"`
	Enabled          bool   `json:"enabled" yaml:"enabled" db:"enabled"`
}

// DefaultScraperConfig is used for networks with no explicit configuration.
func DefaultScraperConfig(network string) ScraperConfig {
	return ScraperConfig{
		Network:          network,
		MaxConcurrent:    2,
		MaxJobsPerMinute: 30,
		Strategy:         PolicyAuto,
		Enabled:          true,
	}
}
