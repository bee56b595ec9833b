// Package config defines service configuration and its loading.
//
// Values are layered: defaults from New, then an optional YAML file,
// then TIARA_ environment variables. A .env file in the working
// directory is read into the environment first.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// AdminKey guards the /admin routes. Empty disables them.
	AdminKey string `koanf:"admin_key" validate:"omitempty,min=8"`

	// CandidatesFile is the YAML candidate registry.
	CandidatesFile string `koanf:"candidates_file" validate:"required"`

	// QueueSize bounds the recompute job queue.
	QueueSize int `koanf:"queue_size" validate:"gt=0"`

	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count" validate:"gt=0"`

	// JobMaxAttempts bounds tries per recompute job.
	JobMaxAttempts int `koanf:"job_max_attempts" validate:"gte=1"`

	// RetryRatePerSec and RetryBurst pace job retries.
	RetryRatePerSec float64 `koanf:"retry_rate_per_sec" validate:"gt=0"`
	RetryBurst      int     `koanf:"retry_burst" validate:"gte=1"`

	// RecomputeConcurrency bounds parallel users in a bulk recompute.
	RecomputeConcurrency int `koanf:"recompute_concurrency" validate:"gte=1"`

	// RecomputeMode is async (job queue) or sync (inline with the admin call).
	RecomputeMode string `koanf:"recompute_mode" validate:"oneof=async sync"`

	// DedupeSize sets the size of the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=0"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"gte=1,lte=10000"`

	Storage Storage `koanf:"storage"`
}

// Storage selects the persistence backend.
type Storage struct {
	Driver string `koanf:"driver" validate:"oneof=memory sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required_unless=Driver memory"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		CandidatesFile:       "configs/candidates.yaml",
		QueueSize:            10_000,
		WorkerCount:          runtime.NumCPU(),
		JobMaxAttempts:       3,
		RetryRatePerSec:      20,
		RetryBurst:           5,
		RecomputeConcurrency: runtime.NumCPU() * 4,
		RecomputeMode:        "async",
		DedupeSize:           50_000,
		MaxLeaderboardLimit:  100,
		Storage: Storage{
			Driver: "memory",
		},
	}
}
