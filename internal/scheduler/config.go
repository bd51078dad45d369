package scheduler

import (
	"time"

	"github.com/smallbiznis/ordersync/internal/config"
)

// Config controls the recovery loop interval and batch size.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	RecoveryThreshold time.Duration
	SweepTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		RecoveryThreshold: 5 * time.Minute,
		SweepTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	return c
}

// ProvideConfig reads the recovery cadence from the sync policy.
func ProvideConfig(policy *config.SyncPolicyHolder) Config {
	p := policy.Get()
	return Config{
		RunInterval:       p.RecoveryInterval,
		RecoveryThreshold: p.RecoveryThreshold,
	}.withDefaults()
}
