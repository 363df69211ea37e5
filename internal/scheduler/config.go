package scheduler

import (
	"time"

	"github.com/smallbiznis/gatekeeper/internal/config"
)

// Config controls the janitor interval and purge batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// MaxBatches bounds how many batches one job deletes per run.
	MaxBatches int
	JobTimeout time.Duration
	// Grace keeps expired rows around for a while after expiry so logs and
	// replay diagnostics can still reference them.
	Grace       time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 10 * time.Minute,
		BatchSize:   500,
		MaxBatches:  20,
		JobTimeout:  30 * time.Second,
		Grace:       time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	if cfg.JanitorInterval > 0 {
		c.RunInterval = cfg.JanitorInterval
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaults.MaxBatches
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	return c
}
