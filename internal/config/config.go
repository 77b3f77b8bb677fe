// Package config loads runtime settings for the empathyfine CLI from a YAML file and
// EMPATHYFINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is looked up in the workspace root when no explicit path is given.
const FileName = "empathyfine.yaml"

// EnvPrefix prefixes every environment override, e.g. EMPATHYFINE_PLAN_MAX_RUNNING.
const EnvPrefix = "EMPATHYFINE"

// Trainer kinds.
const (
	TrainerSimulated = "simulated"
	TrainerProcess   = "process"
)

// Config holds application configuration.
type Config struct {
	Plan    PlanConfig    `mapstructure:"plan"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	History HistoryConfig `mapstructure:"history"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Trainer TrainerConfig `mapstructure:"trainer"`
	Log     LogConfig     `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// PlanConfig is the concurrency quota.
type PlanConfig struct {
	MaxRunning    int `mapstructure:"max_running"`
	MaxQueued     int `mapstructure:"max_queued"`
	MaxPerProject int `mapstructure:"max_per_project"`
}

type JobsConfig struct {
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	BusBuffer       int           `mapstructure:"bus_buffer"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
}

// HistoryConfig bounds the retries of history appends.
type HistoryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// IngestConfig bounds imports. MaxRecordSize also caps a trainer's stdout lines.
type IngestConfig struct {
	MaxResponseLength int `mapstructure:"max_response_length"`
	MaxRecordSize     int `mapstructure:"max_record_size"`
	BatchSize         int `mapstructure:"batch_size"`
}

// RedisConfig enables the redis checkpoint sink when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TrainerConfig selects the training backend. For the process kind, File lists the
// commands and Name picks one of them.
type TrainerConfig struct {
	Kind          string        `mapstructure:"kind"`
	File          string        `mapstructure:"file"`
	Name          string        `mapstructure:"name"`
	StepsPerEpoch int           `mapstructure:"steps_per_epoch"`
	StepDelay     time.Duration `mapstructure:"step_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("plan.max_running", 1)
	v.SetDefault("plan.max_queued", 8)
	v.SetDefault("plan.max_per_project", 0)
	v.SetDefault("jobs.grace_period", 10*time.Second)
	v.SetDefault("jobs.bus_buffer", 64)
	v.SetDefault("jobs.checkpoint_every", 0)
	v.SetDefault("history.attempts", 5)
	v.SetDefault("history.backoff", 200*time.Millisecond)
	v.SetDefault("ingest.max_response_length", 4096)
	v.SetDefault("ingest.max_record_size", 1<<20)
	v.SetDefault("ingest.batch_size", 256)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("trainer.kind", TrainerSimulated)
	v.SetDefault("trainer.file", "")
	v.SetDefault("trainer.name", "")
	v.SetDefault("trainer.steps_per_epoch", 100)
	v.SetDefault("trainer.step_delay", 50*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from path, or from <workspace>/empathyfine.yaml when path is
// empty. A missing default file is not an error; a missing explicit file is.
// Env var overrides use prefix EMPATHYFINE_.
func Load(workspace, path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = filepath.Join(workspace, FileName)
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var c Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)
		if explicit || !missing {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		c.File = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Plan.MaxRunning < 1 {
		return fmt.Errorf("plan.max_running must be at least 1, got %d", c.Plan.MaxRunning)
	}
	if c.Plan.MaxQueued < 0 || c.Plan.MaxPerProject < 0 {
		return errors.New("plan limits must not be negative")
	}
	if c.History.Attempts < 1 {
		return fmt.Errorf("history.attempts must be at least 1, got %d", c.History.Attempts)
	}
	switch c.Trainer.Kind {
	case TrainerSimulated:
	case TrainerProcess:
		if c.Trainer.File == "" || c.Trainer.Name == "" {
			return errors.New("trainer.file and trainer.name are required for the process trainer")
		}
	default:
		return fmt.Errorf("unknown trainer.kind %q", c.Trainer.Kind)
	}
	return nil
}
