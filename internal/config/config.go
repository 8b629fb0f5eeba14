package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/harvest/internal/progress"
)

// Source types.
const (
	SourceOpenI   = "openi"
	SourceGallery = "gallery"
)

// Defaults.
const (
	DefaultOutputRoot    = "xray_images"
	DefaultLimit         = 15
	DefaultTrainFraction = 0.8
	DefaultMaxFileSize   = 50 * 1024 * 1024
	DefaultMaxPixels     = 178956970
	DefaultTimeout       = 10 * time.Second
	DefaultRateInterval  = 500 * time.Millisecond
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	MaxRetryAttempts     = 3
)

// Config defines configuration for the harvest CLI.
type Config struct {
	OutputRoot    string         `yaml:"output"`
	Labels        []string       `yaml:"labels"`
	Partitions    []string       `yaml:"partitions"`
	TrainFraction float64        `yaml:"train_fraction"`
	TrustedHosts  []string       `yaml:"trusted_hosts"`
	MaxFileSize   int64          `yaml:"max_file_size"`
	MaxPixels     int64          `yaml:"max_pixels"`
	Timeout       time.Duration  `yaml:"timeout"`
	RateInterval  time.Duration  `yaml:"rate_interval"`
	UserAgent     string         `yaml:"user_agent"`
	Retry         RetryConfig    `yaml:"retry"`
	Scanner       string         `yaml:"scanner"`
	NoScrub       bool           `yaml:"no_scrub"`
	LogLevel      string         `yaml:"log_level"`
	Limit         int            `yaml:"limit"`
	Mirror        MirrorConfig   `yaml:"mirror"`
	Sources       []SourceConfig `yaml:"sources"`
}

// RetryConfig defines retry behavior. Attempts of zero means fail fast.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// MirrorConfig names an optional object storage mirror.
type MirrorConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// SourceConfig describes one discovery source and the label its images get.
type SourceConfig struct {
	Type     string `yaml:"type"`
	Label    string `yaml:"label"`
	Limit    int    `yaml:"limit"`
	Query    string `yaml:"query"`
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
	Name     string `yaml:"name"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		OutputRoot:    DefaultOutputRoot,
		Labels:        []string{"silicosis", "healthy"},
		Partitions:    []string{"train", "unseen"},
		TrainFraction: DefaultTrainFraction,
		TrustedHosts:  []string{"openi.nlm.nih.gov", "nlm.nih.gov", "nih.gov"},
		MaxFileSize:   DefaultMaxFileSize,
		MaxPixels:     DefaultMaxPixels,
		Timeout:       DefaultTimeout,
		RateInterval:  DefaultRateInterval,
		UserAgent:     DefaultUserAgent,
		Retry: RetryConfig{
			Attempts:   0,
			Backoff:    time.Second,
			MaxBackoff: 10 * time.Second,
		},
		Scanner:  "auto",
		LogLevel: "info",
		Limit:    DefaultLimit,
		Sources: []SourceConfig{
			{Type: SourceOpenI, Label: "healthy", Query: "normal"},
			{Type: SourceOpenI, Label: "silicosis", Query: "silicosis"},
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	OutputRoot    string          `yaml:"output"`
	Labels        []string        `yaml:"labels"`
	Partitions    []string        `yaml:"partitions"`
	TrainFraction *float64        `yaml:"train_fraction"`
	TrustedHosts  []string        `yaml:"trusted_hosts"`
	MaxFileSize   string          `yaml:"max_file_size"`
	MaxPixels     int64           `yaml:"max_pixels"`
	Timeout       string          `yaml:"timeout"`
	RateInterval  string          `yaml:"rate_interval"`
	UserAgent     string          `yaml:"user_agent"`
	Retry         yamlRetryConfig `yaml:"retry"`
	Scanner       string          `yaml:"scanner"`
	NoScrub       bool            `yaml:"no_scrub"`
	LogLevel      string          `yaml:"log_level"`
	Limit         int             `yaml:"limit"`
	Mirror        MirrorConfig    `yaml:"mirror"`
	Sources       []SourceConfig  `yaml:"sources"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.OutputRoot != "" {
		cfg.OutputRoot = yc.OutputRoot
	}
	if len(yc.Labels) > 0 {
		cfg.Labels = yc.Labels
	}
	if len(yc.Partitions) > 0 {
		cfg.Partitions = yc.Partitions
	}
	if yc.TrainFraction != nil {
		cfg.TrainFraction = *yc.TrainFraction
	}
	if len(yc.TrustedHosts) > 0 {
		cfg.TrustedHosts = yc.TrustedHosts
	}
	if yc.MaxFileSize != "" {
		size, err := progress.ParseBytes(yc.MaxFileSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse max_file_size: %w", err)
		}
		cfg.MaxFileSize = size
	}
	if err := parseDuration(yc.Timeout, "timeout", &cfg.Timeout); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.RateInterval, "rate_interval", &cfg.RateInterval); err != nil {
		return Config{}, err
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := parseDuration(yc.Retry.Backoff, "retry.backoff", &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Retry.MaxBackoff, "retry.max_backoff", &cfg.Retry.MaxBackoff); err != nil {
		return Config{}, err
	}
	if yc.Scanner != "" {
		cfg.Scanner = yc.Scanner
	}
	cfg.NoScrub = yc.NoScrub
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.MaxPixels != 0 {
		cfg.MaxPixels = yc.MaxPixels
	}
	if yc.Limit != 0 {
		cfg.Limit = yc.Limit
	}
	if yc.Mirror.Bucket != "" {
		cfg.Mirror = yc.Mirror
	}
	if len(yc.Sources) > 0 {
		cfg.Sources = yc.Sources
	}

	return cfg, nil
}

func parseDuration(s, field string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	*dst = d
	return nil
}

// envConfig mirrors the settable fields as environment variables. Pointer
// fields stay nil when the variable is unset.
type envConfig struct {
	OutputRoot    string         `env:"OUTPUT"`
	Labels        []string       `env:"LABELS" envSeparator:","`
	Partitions    []string       `env:"PARTITIONS" envSeparator:","`
	TrainFraction *float64       `env:"TRAIN_FRACTION"`
	TrustedHosts  []string       `env:"TRUSTED_HOSTS" envSeparator:","`
	MaxFileSize   string         `env:"MAX_FILE_SIZE"`
	MaxPixels     *int64         `env:"MAX_PIXELS"`
	Timeout       *time.Duration `env:"TIMEOUT"`
	RateInterval  *time.Duration `env:"RATE_INTERVAL"`
	UserAgent     string         `env:"USER_AGENT"`
	RetryAttempts *int           `env:"RETRY_ATTEMPTS"`
	RetryBackoff  *time.Duration `env:"RETRY_BACKOFF"`
	RetryMax      *time.Duration `env:"RETRY_MAX_BACKOFF"`
	Scanner       string         `env:"SCANNER"`
	NoScrub       *bool          `env:"NO_SCRUB"`
	LogLevel      string         `env:"LOG_LEVEL"`
	Limit         *int           `env:"LIMIT"`
	MirrorBucket  string         `env:"MIRROR_BUCKET"`
	MirrorPrefix  string         `env:"MIRROR_PREFIX"`
}

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HARVEST_"

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the HARVEST_ prefix.
func (c *Config) LoadFromEnv() error {
	var ec envConfig
	if err := env.ParseWithOptions(&ec, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if ec.OutputRoot != "" {
		c.OutputRoot = ec.OutputRoot
	}
	if len(ec.Labels) > 0 {
		c.Labels = trimAll(ec.Labels)
	}
	if len(ec.Partitions) > 0 {
		c.Partitions = trimAll(ec.Partitions)
	}
	if ec.TrainFraction != nil {
		c.TrainFraction = *ec.TrainFraction
	}
	if len(ec.TrustedHosts) > 0 {
		c.TrustedHosts = trimAll(ec.TrustedHosts)
	}
	if ec.MaxFileSize != "" {
		size, err := progress.ParseBytes(ec.MaxFileSize)
		if err != nil {
			return fmt.Errorf("parse %sMAX_FILE_SIZE: %w", EnvPrefix, err)
		}
		c.MaxFileSize = size
	}
	if ec.Timeout != nil {
		c.Timeout = *ec.Timeout
	}
	if ec.RateInterval != nil {
		c.RateInterval = *ec.RateInterval
	}
	if ec.UserAgent != "" {
		c.UserAgent = ec.UserAgent
	}
	if ec.RetryAttempts != nil {
		c.Retry.Attempts = *ec.RetryAttempts
	}
	if ec.RetryBackoff != nil {
		c.Retry.Backoff = *ec.RetryBackoff
	}
	if ec.RetryMax != nil {
		c.Retry.MaxBackoff = *ec.RetryMax
	}
	if ec.Scanner != "" {
		c.Scanner = ec.Scanner
	}
	if ec.NoScrub != nil {
		c.NoScrub = *ec.NoScrub
	}
	if ec.LogLevel != "" {
		c.LogLevel = ec.LogLevel
	}
	if ec.MaxPixels != nil {
		c.MaxPixels = *ec.MaxPixels
	}
	if ec.Limit != nil {
		c.Limit = *ec.Limit
	}
	if ec.MirrorBucket != "" {
		c.Mirror.Bucket = ec.MirrorBucket
	}
	if ec.MirrorPrefix != "" {
		c.Mirror.Prefix = ec.MirrorPrefix
	}

	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputRoot) == "" {
		return errors.New("config: output is required")
	}
	if len(c.Labels) == 0 {
		return errors.New("config: at least one label is required")
	}
	if len(c.Partitions) == 0 {
		return errors.New("config: at least one partition is required")
	}
	if c.TrainFraction < 0 || c.TrainFraction > 1 {
		return errors.New("config: train_fraction must be between 0 and 1")
	}
	if len(c.TrustedHosts) == 0 {
		return errors.New("config: at least one trusted host is required")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("config: max_file_size must be positive")
	}
	if c.MaxPixels <= 0 {
		return errors.New("config: max_pixels must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.RateInterval < 0 {
		return errors.New("config: rate_interval must not be negative")
	}
	if c.Retry.Attempts < 0 || c.Retry.Attempts > MaxRetryAttempts {
		return fmt.Errorf("config: retry.attempts must be between 0 and %d", MaxRetryAttempts)
	}
	if c.Limit < 0 {
		return errors.New("config: limit must not be negative")
	}
	for i, s := range c.Sources {
		if err := c.validateSource(s); err != nil {
			return fmt.Errorf("config: sources[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) validateSource(s SourceConfig) error {
	found := false
	for _, l := range c.Labels {
		if l == s.Label {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("label %q is not configured", s.Label)
	}
	switch s.Type {
	case SourceOpenI:
		if s.Query == "" {
			return errors.New("openi source needs a query")
		}
	case SourceGallery:
		if s.URL == "" {
			return errors.New("gallery source needs a url")
		}
		if s.Name == "" {
			return errors.New("gallery source needs a name")
		}
	default:
		return fmt.Errorf("unknown source type %q", s.Type)
	}
	if s.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.OutputRoot != "" {
		c.OutputRoot = override.OutputRoot
	}
	if len(override.Labels) > 0 {
		c.Labels = override.Labels
	}
	if len(override.Partitions) > 0 {
		c.Partitions = override.Partitions
	}
	if override.TrainFraction != 0 {
		c.TrainFraction = override.TrainFraction
	}
	if len(override.TrustedHosts) > 0 {
		c.TrustedHosts = override.TrustedHosts
	}
	if override.MaxFileSize != 0 {
		c.MaxFileSize = override.MaxFileSize
	}
	if override.MaxPixels != 0 {
		c.MaxPixels = override.MaxPixels
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.RateInterval != 0 {
		c.RateInterval = override.RateInterval
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Scanner != "" {
		c.Scanner = override.Scanner
	}
	if override.NoScrub {
		c.NoScrub = override.NoScrub
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.Limit != 0 {
		c.Limit = override.Limit
	}
	if override.Mirror.Bucket != "" {
		c.Mirror.Bucket = override.Mirror.Bucket
	}
	if override.Mirror.Prefix != "" {
		c.Mirror.Prefix = override.Mirror.Prefix
	}
	if len(override.Sources) > 0 {
		c.Sources = override.Sources
	}
	return c
}

// SourceLimit returns the source's own limit, or the global one.
func (c *Config) SourceLimit(s SourceConfig) int {
	if s.Limit > 0 {
		return s.Limit
	}
	return c.Limit
}
