// Package config loads the scheduling core's tunables via viper:
// a YAML file with environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SpeculationConfig configures straggler speculation.
type SpeculationConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// AutoscaleConfig configures the Autoscaler hook's signal timers.
type AutoscaleConfig struct {
	SchedulerBacklogTimeout time.Duration `mapstructure:"scheduler_backlog_timeout"`
	WorkerIdleTimeout       time.Duration `mapstructure:"worker_idle_timeout"`
	MinWorkers              int           `mapstructure:"min_workers"`
	MaxWorkers              int           `mapstructure:"max_workers"`
}

// Config holds every recognized option from the Configuration section.
type Config struct {
	SubmitPeriod           time.Duration     `mapstructure:"submit_period"`
	SubtaskMaxReschedules  int               `mapstructure:"subtask_max_reschedules"`
	SubtaskCancelTimeout   time.Duration     `mapstructure:"subtask_cancel_timeout"`
	Speculation            SpeculationConfig `mapstructure:"speculation"`
	Autoscale              AutoscaleConfig   `mapstructure:"autoscale"`
}

// DefaultConfig returns the defaults named in the Configuration section.
func DefaultConfig() *Config {
	return &Config{
		SubmitPeriod:          time.Second,
		SubtaskMaxReschedules: 3,
		SubtaskCancelTimeout:  5 * time.Second,
		Speculation: SpeculationConfig{
			Enabled:    false,
			Multiplier: 1.5,
		},
		Autoscale: AutoscaleConfig{
			SchedulerBacklogTimeout: 20 * time.Second,
			WorkerIdleTimeout:       40 * time.Second,
			MinWorkers:              0,
			MaxWorkers:              0,
		},
	}
}

// Load reads configuration from a YAML file named "scheduler" on the
// given search paths, overridable by SCHEDULER_-prefixed environment
// variables, falling back to DefaultConfig for anything unset.
func Load(searchPaths ...string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("scheduler")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("SCHEDULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("submit_period", cfg.SubmitPeriod)
	v.SetDefault("subtask_max_reschedules", cfg.SubtaskMaxReschedules)
	v.SetDefault("subtask_cancel_timeout", cfg.SubtaskCancelTimeout)
	v.SetDefault("speculation.enabled", cfg.Speculation.Enabled)
	v.SetDefault("speculation.multiplier", cfg.Speculation.Multiplier)
	v.SetDefault("autoscale.scheduler_backlog_timeout", cfg.Autoscale.SchedulerBacklogTimeout)
	v.SetDefault("autoscale.worker_idle_timeout", cfg.Autoscale.WorkerIdleTimeout)
	v.SetDefault("autoscale.min_workers", cfg.Autoscale.MinWorkers)
	v.SetDefault("autoscale.max_workers", cfg.Autoscale.MaxWorkers)
}
