package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/mirrorpick/internal/mirror"
	"github.com/BadgerOps/mirrorpick/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Mirrors  mirror.MirrorSet `yaml:"mirrors"`
	Probe    ProbeConfig      `yaml:"probe"`
	Download DownloadConfig   `yaml:"download"`
	History  HistoryConfig    `yaml:"history"`
	Server   ServerConfig     `yaml:"server"`
}

// ProbeConfig holds mirror probing settings
type ProbeConfig struct {
	SampleBytes    int64         `yaml:"sample_bytes"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	CollectSlack   time.Duration `yaml:"collect_slack"`
	MaxWorkers     int           `yaml:"max_workers"`
	UserAgent      string        `yaml:"user_agent"`
}

// DownloadConfig holds settings for fetching the resolved artifact
type DownloadConfig struct {
	RetryAttempts int    `yaml:"retry_attempts"`
	RateLimit     int64  `yaml:"rate_limit"` // bytes per second, 0 = unlimited
	OutputDir     string `yaml:"output_dir"`
}

// HistoryConfig holds the resolution ledger settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// ServerConfig holds resolve API server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	opts := mirror.DefaultOptions()
	return &Config{
		Mirrors: mirror.DefaultMirrorSet(),
		Probe: ProbeConfig{
			SampleBytes:    opts.SampleBytes,
			ConnectTimeout: opts.ConnectTimeout,
			ReadTimeout:    opts.ReadTimeout,
			CollectSlack:   opts.CollectSlack,
			MaxWorkers:     opts.MaxWorkers,
			UserAgent:      opts.UserAgent,
		},
		Download: DownloadConfig{
			RetryAttempts: 3,
			RateLimit:     0,
			OutputDir:     ".",
		},
		History: HistoryConfig{
			Enabled: false,
			DBPath:  "",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load reads a config file from the given path and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mirrorpick.yaml",
		"/etc/mirrorpick/mirrorpick.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "mirrorpick", "mirrorpick.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks the mirror set and probe settings. The mirror set is fixed
// once loaded, so everything the generator relies on is checked here.
func (c *Config) Validate() error {
	if _, err := safety.ValidateHTTPURL(c.Mirrors.Canonical); err != nil {
		return fmt.Errorf("mirrors.canonical: %w", err)
	}

	canonical := strings.TrimRight(c.Mirrors.Canonical, "/")
	normalized := lo.Map(c.Mirrors.Alternates, func(alt string, _ int) string {
		return strings.TrimRight(alt, "/")
	})
	for i, alt := range normalized {
		if _, err := safety.ValidateHTTPURL(alt); err != nil {
			return fmt.Errorf("mirrors.alternates[%d]: %w", i, err)
		}
		if alt == canonical {
			return fmt.Errorf("mirrors.alternates[%d]: %q repeats the canonical host", i, alt)
		}
	}
	if dups := lo.FindDuplicates(normalized); len(dups) > 0 {
		return fmt.Errorf("mirrors.alternates: duplicate entries %v", dups)
	}

	if c.Probe.SampleBytes <= 0 {
		return fmt.Errorf("probe.sample_bytes must be positive, got %d", c.Probe.SampleBytes)
	}
	if c.Probe.ConnectTimeout <= 0 || c.Probe.ReadTimeout <= 0 {
		return fmt.Errorf("probe timeouts must be positive (connect=%s, read=%s)", c.Probe.ConnectTimeout, c.Probe.ReadTimeout)
	}
	if c.Probe.CollectSlack <= 0 {
		return fmt.Errorf("probe.collect_slack must be positive, got %s", c.Probe.CollectSlack)
	}
	if c.Probe.MaxWorkers <= 0 {
		return fmt.Errorf("probe.max_workers must be positive, got %d", c.Probe.MaxWorkers)
	}
	if c.Download.RetryAttempts < 0 {
		return fmt.Errorf("download.retry_attempts must not be negative, got %d", c.Download.RetryAttempts)
	}
	if c.Download.RateLimit < 0 {
		return fmt.Errorf("download.rate_limit must not be negative, got %d", c.Download.RateLimit)
	}
	return nil
}

// ProbeOptions converts the probe section into selector options.
func (c *Config) ProbeOptions() mirror.Options {
	return mirror.Options{
		SampleBytes:    c.Probe.SampleBytes,
		ConnectTimeout: c.Probe.ConnectTimeout,
		ReadTimeout:    c.Probe.ReadTimeout,
		CollectSlack:   c.Probe.CollectSlack,
		MaxWorkers:     c.Probe.MaxWorkers,
		UserAgent:      c.Probe.UserAgent,
	}
}

// HistoryDBPath returns the ledger path, defaulting under the user cache dir.
func (c *Config) HistoryDBPath() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mirrorpick", "history.db")
	}
	return "mirrorpick-history.db"
}
