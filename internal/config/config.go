package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string         `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format" toml:"log_format"`
	Timezone  string         `json:"timezone" yaml:"timezone" toml:"timezone"`
	Limiter   LimiterConfig  `json:"limiter" yaml:"limiter" toml:"limiter"`
	Policies  PoliciesConfig `json:"policies" yaml:"policies" toml:"policies"`
	API       APIConfig      `json:"api" yaml:"api" toml:"api"`
	Storage   StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	Publish   PublishConfig  `json:"publish" yaml:"publish" toml:"publish"`
	Alerts    AlertsConfig   `json:"alerts" yaml:"alerts" toml:"alerts"`
}

type LimiterConfig struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests" toml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window" toml:"window"`
}

type PoliciesConfig struct {
	FixedWindow     WindowPolicyConfig    `json:"fixed_window" yaml:"fixed_window" toml:"fixed_window"`
	SlidingWindow   WindowPolicyConfig    `json:"sliding_window" yaml:"sliding_window" toml:"sliding_window"`
	Burst           BurstConfig           `json:"burst" yaml:"burst" toml:"burst"`
	AbnormalPattern AbnormalPatternConfig `json:"abnormal_pattern" yaml:"abnormal_pattern" toml:"abnormal_pattern"`
	RetryAbuse      RetryAbuseConfig      `json:"retry_abuse" yaml:"retry_abuse" toml:"retry_abuse"`
}

type WindowPolicyConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxRequests int           `json:"max_requests" yaml:"max_requests" toml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window" toml:"window"`
}

type BurstConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	Threshold int           `json:"threshold" yaml:"threshold" toml:"threshold"`
	Window    time.Duration `json:"window" yaml:"window" toml:"window"`
}

type AbnormalPatternConfig struct {
	Enabled              bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	UnusualHourThreshold int           `json:"unusual_hour_threshold" yaml:"unusual_hour_threshold" toml:"unusual_hour_threshold"`
	UniformTolerance     time.Duration `json:"uniform_tolerance" yaml:"uniform_tolerance" toml:"uniform_tolerance"`
}

type RetryAbuseConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxConsecutive int           `json:"max_consecutive" yaml:"max_consecutive" toml:"max_consecutive"`
	Window         time.Duration `json:"window" yaml:"window" toml:"window"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Driver  string `json:"driver" yaml:"driver" toml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type PublishConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers []string      `json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic   string        `json:"topic" yaml:"topic" toml:"topic"`
	// Timeout bounds how long one publish may hold up a submission.
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type AlertsConfig struct {
	StoreLimit   int           `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
	// Cooldown throttles repeated warning logs for the same client and level.
	Cooldown     time.Duration `json:"cooldown" yaml:"cooldown" toml:"cooldown"`
	// DedupeWindow drops a result identical to one already kept within it.
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window" toml:"dedupe_window"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "Local",
		Limiter:   LimiterConfig{MaxRequests: 5, Window: 10 * time.Second},
		Policies: PoliciesConfig{
			FixedWindow:   WindowPolicyConfig{Enabled: true, MaxRequests: 5, Window: 10 * time.Second},
			SlidingWindow: WindowPolicyConfig{Enabled: true, MaxRequests: 5, Window: 10 * time.Second},
			Burst:         BurstConfig{Enabled: true, Threshold: 4, Window: 3 * time.Second},
			AbnormalPattern: AbnormalPatternConfig{
				Enabled:              true,
				UnusualHourThreshold: 3,
				UniformTolerance:     time.Second,
			},
			RetryAbuse: RetryAbuseConfig{Enabled: true, MaxConsecutive: 8, Window: 2 * time.Second},
		},
		API:     APIConfig{Enabled: false, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:ratesim.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{Enabled: false, Topic: "ratesim.events", Timeout: 200 * time.Millisecond},
		Alerts:  AlertsConfig{StoreLimit: 1000, Cooldown: 30 * time.Second, DedupeWindow: time.Minute},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	switch {
	case strings.EqualFold(filepath.Ext(path), ".toml"):
		_, decodeErr = toml.Decode(trimmed, cfg)
	case looksLikeJSON(trimmed):
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	default:
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	if err := applyEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with RATESIM_* overrides applied. It is used
// when no config file is given.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(cfg)
		data = []byte(b.String())
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.Policies.AbnormalPattern.UniformTolerance <= 0 {
		cfg.Policies.AbnormalPattern.UniformTolerance = time.Second
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Publish.Topic == "" {
		cfg.Publish.Topic = "ratesim.events"
	}
	if cfg.Publish.Timeout <= 0 {
		cfg.Publish.Timeout = 200 * time.Millisecond
	}
}

func Validate(cfg *Config) error {
	if cfg.Limiter.MaxRequests <= 0 {
		return errors.New("limiter.max_requests must be > 0")
	}
	if cfg.Limiter.Window <= 0 {
		return fmt.Errorf("limiter.window must be > 0, got %s", cfg.Limiter.Window)
	}
	p := cfg.Policies
	if p.FixedWindow.Enabled && (p.FixedWindow.MaxRequests <= 0 || p.FixedWindow.Window <= 0) {
		return errors.New("policies.fixed_window requires max_requests and window > 0")
	}
	if p.SlidingWindow.Enabled && (p.SlidingWindow.MaxRequests <= 0 || p.SlidingWindow.Window <= 0) {
		return errors.New("policies.sliding_window requires max_requests and window > 0")
	}
	if p.Burst.Enabled && (p.Burst.Threshold <= 0 || p.Burst.Window <= 0) {
		return errors.New("policies.burst requires threshold and window > 0")
	}
	if p.AbnormalPattern.Enabled && p.AbnormalPattern.UnusualHourThreshold < 0 {
		return errors.New("policies.abnormal_pattern.unusual_hour_threshold must be >= 0")
	}
	if p.RetryAbuse.Enabled && (p.RetryAbuse.MaxConsecutive <= 0 || p.RetryAbuse.Window <= 0) {
		return errors.New("policies.retry_abuse requires max_consecutive and window > 0")
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql", "mysql":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
	}
	if cfg.Alerts.Cooldown < 0 || cfg.Alerts.DedupeWindow < 0 {
		return errors.New("alerts.cooldown and alerts.dedupe_window must be >= 0")
	}
	if cfg.Publish.Enabled && (len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "") {
		return errors.New("publish requires brokers and topic")
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	switch strings.TrimSpace(c.Timezone) {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
