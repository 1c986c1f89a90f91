// Package config provides the configuration structure for the interpretation-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/interpretation-service/internal/retry"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults applied by ApplyDefaults.
const (
	DefaultNATSURL            = "nats://127.0.0.1:4222"
	DefaultRequestSubject     = "interpretations.requested"
	DefaultQueueGroup         = "interpretation-workers"
	DefaultExportBucket       = "INTERPRETATION_EXPORTS"
	DefaultMaxInFlight        = 8
	DefaultProviderTimeout    = 60
	DefaultMaxAttempts        = 3
	MaxAttemptsLimit          = 10
	DefaultBaseDelayMillis    = 1000
	DefaultFastTokenThreshold = 2000
	DefaultCacheMaxBytes      = 50 * 1024 * 1024
	DefaultCacheEntryOverhead = 500
	DefaultListenAddr         = ":8080"
	DefaultLogsDir            = "logs"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL            string `toml:"url"`
	RequestSubject string `toml:"request_subject"`
	QueueGroup     string `toml:"queue_group"`
	ExportBucket   string `toml:"export_bucket"`
	// MaxInFlight bounds the requests a worker handles at the same time.
	MaxInFlight    int    `toml:"max_in_flight"`
}

// ProviderConfig locates the model proxy.
type ProviderConfig struct {
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// GenerationConfig tunes retries, tier selection and fan-out.
type GenerationConfig struct {
	MaxAttempts        int    `toml:"max_attempts"`
	BaseDelayMillis    int    `toml:"base_delay_ms"`
	FastTokenThreshold int    `toml:"fast_token_threshold"`
	MaxConcurrency     int    `toml:"max_concurrency"`
	PersonaCatalogue   string `toml:"persona_catalogue"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	MaxSizeBytes       int64 `toml:"max_size_bytes"`
	EntryOverheadBytes int64 `toml:"entry_overhead_bytes"`
}

// ModelConfig configures one model tier. Empty or absent fields keep the
// built-in values; an explicit temperature or top_p of 0 is honored.
type ModelConfig struct {
	ModelID     string   `toml:"model_id"`
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
	MaxTokens   int      `toml:"max_tokens"`
}

// ModelsConfig holds the three model tiers.
type ModelsConfig struct {
	Fast     ModelConfig `toml:"fast"`
	Balanced ModelConfig `toml:"balanced"`
	Quality  ModelConfig `toml:"quality"`
}

// HTTPConfig controls the optional HTTP API.
type HTTPConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Provider   ProviderConfig   `toml:"provider"`
	Generation GenerationConfig `toml:"generation"`
	Cache      CacheConfig      `toml:"cache"`
	Models     ModelsConfig     `toml:"models"`
	HTTP       HTTPConfig       `toml:"http"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads, defaults and validates the configuration for the interpretation-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.URL, DefaultNATSURL)
	setDefault(&c.NATS.RequestSubject, DefaultRequestSubject)
	setDefault(&c.NATS.QueueGroup, DefaultQueueGroup)
	setDefault(&c.NATS.ExportBucket, DefaultExportBucket)
	setDefault(&c.HTTP.ListenAddr, DefaultListenAddr)
	setDefault(&c.Paths.BaseLogsDir, DefaultLogsDir)

	if c.NATS.MaxInFlight == 0 {
		c.NATS.MaxInFlight = DefaultMaxInFlight
	}

	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = DefaultProviderTimeout
	}

	if c.Generation.MaxAttempts == 0 {
		c.Generation.MaxAttempts = DefaultMaxAttempts
	}

	if c.Generation.BaseDelayMillis == 0 {
		c.Generation.BaseDelayMillis = DefaultBaseDelayMillis
	}

	if c.Generation.FastTokenThreshold == 0 {
		c.Generation.FastTokenThreshold = DefaultFastTokenThreshold
	}

	if c.Cache.MaxSizeBytes == 0 {
		c.Cache.MaxSizeBytes = DefaultCacheMaxBytes
	}

	if c.Cache.EntryOverheadBytes == 0 {
		c.Cache.EntryOverheadBytes = DefaultCacheEntryOverhead
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var problems []error

	if c.NATS.MaxInFlight < 0 {
		problems = append(problems, errors.New("nats.max_in_flight must not be negative"))
	}

	if c.Provider.TimeoutSeconds < 0 {
		problems = append(problems, errors.New("provider.timeout_seconds must not be negative"))
	}

	if c.Generation.MaxAttempts < 1 || c.Generation.MaxAttempts > MaxAttemptsLimit {
		problems = append(problems, fmt.Errorf("generation.max_attempts must be between 1 and %d", MaxAttemptsLimit))
	}

	if c.Generation.BaseDelayMillis < 0 {
		problems = append(problems, errors.New("generation.base_delay_ms must not be negative"))
	}

	if c.Generation.MaxConcurrency < 0 {
		problems = append(problems, errors.New("generation.max_concurrency must not be negative"))
	}

	if c.Cache.MaxSizeBytes < 0 || c.Cache.EntryOverheadBytes < 0 {
		problems = append(problems, errors.New("cache sizes must not be negative"))
	}

	for name, model := range map[string]ModelConfig{
		"fast":     c.Models.Fast,
		"balanced": c.Models.Balanced,
		"quality":  c.Models.Quality,
	} {
		if model.Temperature != nil && *model.Temperature < 0 {
			problems = append(problems, fmt.Errorf("models.%s.temperature must not be negative", name))
		}

		if model.TopP != nil && (*model.TopP < 0 || *model.TopP > 1) {
			problems = append(problems, fmt.Errorf("models.%s.top_p must be within [0, 1]", name))
		}

		if model.MaxTokens < 0 {
			problems = append(problems, fmt.Errorf("models.%s.max_tokens must not be negative", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}

	return nil
}

// ProviderTimeout returns the provider call timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// BaseDelay returns the first retry backoff.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Generation.BaseDelayMillis) * time.Millisecond
}

// RequestBudget returns the worst-case time to generate one interpretation:
// every attempt running into the provider timeout plus the backoff between
// attempts. Batches with a bounded max_concurrency may need several budgets.
func (c *Config) RequestBudget() time.Duration {
	executor := retry.NewExecutor(retry.Config{
		MaxAttempts: c.Generation.MaxAttempts,
		BaseDelay:   c.BaseDelay(),
		Sleep:       nil,
	}, nil)

	return executor.Budget(c.ProviderTimeout())
}

// LoadFile reads, defaults and validates an explicit TOML file, bypassing the
// configurator's project lookup.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}
