package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SyncPolicy tunes chunking, polling and transaction filtering for the sync runners.
type SyncPolicy struct {
	ChunkSize              int           `mapstructure:"chunkSize"`
	ChunkBudget            time.Duration `mapstructure:"chunkBudget"`
	DailyBudget            time.Duration `mapstructure:"dailyBudget"`
	PollInterval           time.Duration `mapstructure:"pollInterval"`
	PollTimeout            time.Duration `mapstructure:"pollTimeout"`
	ExcludedPaymentMethods []string      `mapstructure:"excludedPaymentMethods"`
	Timezone               string        `mapstructure:"timezone"`
	LeaseTTL               time.Duration `mapstructure:"leaseTTL"`
	RecoveryThreshold      time.Duration `mapstructure:"recoveryThreshold"`
	RecoveryInterval       time.Duration `mapstructure:"recoveryInterval"`
}

func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		ChunkSize:              5,
		ChunkBudget:            20 * time.Second,
		DailyBudget:            25 * time.Second,
		PollInterval:           5 * time.Second,
		PollTimeout:            10 * time.Minute,
		ExcludedPaymentMethods: []string{"POS"},
		Timezone:               "UTC",
		LeaseTTL:               3 * time.Minute,
		RecoveryThreshold:      5 * time.Minute,
		RecoveryInterval:       time.Minute,
	}
}

// Location resolves the policy timezone, falling back to UTC.
func (p SyncPolicy) Location() *time.Location {
	name := strings.TrimSpace(p.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SyncPolicyHolder struct {
	current atomic.Value // holds SyncPolicy
}

// NewStaticSyncPolicy returns a holder that never reloads.
func NewStaticSyncPolicy(p SyncPolicy) *SyncPolicyHolder {
	holder := &SyncPolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewSyncPolicyHolder(log *zap.Logger) (*SyncPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.sync_policy")

	v := viper.New()
	v.SetConfigName("sync")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/ordersync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncPolicy()
	v.SetDefault("sync.chunkSize", defaults.ChunkSize)
	v.SetDefault("sync.chunkBudget", defaults.ChunkBudget)
	v.SetDefault("sync.dailyBudget", defaults.DailyBudget)
	v.SetDefault("sync.pollInterval", defaults.PollInterval)
	v.SetDefault("sync.pollTimeout", defaults.PollTimeout)
	v.SetDefault("sync.excludedPaymentMethods", defaults.ExcludedPaymentMethods)
	v.SetDefault("sync.timezone", defaults.Timezone)
	v.SetDefault("sync.leaseTTL", defaults.LeaseTTL)
	v.SetDefault("sync.recoveryThreshold", defaults.RecoveryThreshold)
	v.SetDefault("sync.recoveryInterval", defaults.RecoveryInterval)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var policy SyncPolicy
	if err := v.UnmarshalKey("sync", &policy); err != nil {
		return nil, err
	}
	if err := validateSyncPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticSyncPolicy(policy)
	if !fileLoaded {
		log.Info("sync policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SyncPolicy
		if err := v.UnmarshalKey("sync", &updated); err != nil {
			log.Warn("sync policy reload failed", zap.Error(err))
			return
		}
		if err := validateSyncPolicy(updated); err != nil {
			log.Warn("invalid sync policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("sync policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *SyncPolicyHolder) Get() SyncPolicy {
	if h == nil {
		return DefaultSyncPolicy()
	}
	policy, ok := h.current.Load().(SyncPolicy)
	if !ok {
		return DefaultSyncPolicy()
	}
	return policy
}

func validateSyncPolicy(p SyncPolicy) error {
	if p.ChunkSize <= 0 {
		return errors.New("sync.chunkSize must be positive")
	}
	if p.ChunkBudget <= 0 || p.DailyBudget <= 0 {
		return errors.New("sync budgets must be positive")
	}
	if p.PollInterval <= 0 || p.PollTimeout < p.PollInterval {
		return errors.New("sync.pollTimeout must be at least sync.pollInterval")
	}
	if p.LeaseTTL <= 0 {
		return errors.New("sync.leaseTTL must be positive")
	}
	// a live chunk heartbeats at least once per lease; the sweep must not
	// requeue it while the lease can still be held
	if p.RecoveryThreshold > 0 && p.RecoveryThreshold <= p.LeaseTTL {
		return errors.New("sync.recoveryThreshold must exceed sync.leaseTTL")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return errors.New("sync.timezone is invalid")
		}
	}
	return nil
}
