// Package config loads settings from flags, environment, an optional YAML
// file and a .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. GHSTATS_DATABASE.
const EnvPrefix = "GHSTATS"

// ErrMissingToken is returned by RequireToken when no token is configured.
var ErrMissingToken = errors.New("GITHUB_TOKEN environment variable is not set")

// RetryConfig bounds the retries of a single page fetch.
type RetryConfig struct {
	MaxRateLimitAttempts int           `mapstructure:"max_rate_limit_attempts"`
	MaxTransientAttempts int           `mapstructure:"max_transient_attempts"`
	InitialInterval      time.Duration `mapstructure:"initial_interval"`
	MaxInterval          time.Duration `mapstructure:"max_interval"`
}

// Config is the resolved application configuration.
type Config struct {
	GitHubToken       string        `mapstructure:"github_token"`
	Database          string        `mapstructure:"database"`
	Repositories      []string      `mapstructure:"repositories"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RateLimitMaxWait  time.Duration `mapstructure:"rate_limit_max_wait"`
	CommitAttempts    int           `mapstructure:"commit_attempts"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("github_token", "")
	v.SetDefault("database", "~/.github-stats/stats.db")
	v.SetDefault("repositories", []string{})
	v.SetDefault("concurrency", 4)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("requests_per_second", 1.2)
	v.SetDefault("rate_limit_max_wait", time.Minute)
	v.SetDefault("commit_attempts", 3)
	v.SetDefault("retry.max_rate_limit_attempts", 5)
	v.SetDefault("retry.max_transient_attempts", 3)
	v.SetDefault("retry.initial_interval", time.Second)
	v.SetDefault("retry.max_interval", time.Minute)
	return v
}

// LoadDotEnv loads path into the process environment. A missing file is not
// an error; variables already set are left alone.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the config file named by the "config" key, if any, and
// decodes every setting.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects non-positive limits.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	positive("concurrency", c.Concurrency > 0)
	positive("request_timeout", c.RequestTimeout > 0)
	positive("requests_per_second", c.RequestsPerSecond > 0)
	positive("rate_limit_max_wait", c.RateLimitMaxWait > 0)
	positive("commit_attempts", c.CommitAttempts > 0)
	positive("retry.max_rate_limit_attempts", c.Retry.MaxRateLimitAttempts > 0)
	positive("retry.max_transient_attempts", c.Retry.MaxTransientAttempts > 0)
	positive("retry.initial_interval", c.Retry.InitialInterval > 0)
	positive("retry.max_interval", c.Retry.MaxInterval > 0)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireToken fails when no GitHub token was configured.
func (c *Config) RequireToken() error {
	if c.GitHubToken == "" {
		return ErrMissingToken
	}
	return nil
}
