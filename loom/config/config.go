package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/loreweave/loom"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Weave     WeaveConfig     `mapstructure:"weave"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// WeaveConfig stores the turn constants.
type WeaveConfig struct {
	Model            string  `mapstructure:"model"`             // "gpt-3.5-turbo", "gpt-4"
	Temperature      float32 `mapstructure:"temperature"`       // 0..2
	PresencePenalty  float32 `mapstructure:"presence_penalty"`  // -2..2
	FrequencyPenalty float32 `mapstructure:"frequency_penalty"` // -2..2
	SummaryFraction  float64 `mapstructure:"summary_fraction"`  // share of the window reserved per turn
	ContextWindow    int     `mapstructure:"context_window"`    // 0 uses the model max
	Parallelism      int     `mapstructure:"parallelism"`       // WeaveAll fan-out, 0 = GOMAXPROCS
}

// OpenAIConfig stores the completion client settings.
type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Organization string        `mapstructure:"organization"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects and configures the fragment store.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // "memory", "libsql", "redis", "postgres"
	LibSQLPath    string `mapstructure:"libsql_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	PostgresURL   string `mapstructure:"postgres_url"`
}

// TokenizerConfig selects the token counter.
type TokenizerConfig struct {
	Kind            string `mapstructure:"kind"`     // "tiktoken", "heuristic"
	Encoding        string `mapstructure:"encoding"` // tiktoken encoding name
	CacheEnabled    bool   `mapstructure:"cache_enabled"`
	CacheCapacity   int    `mapstructure:"cache_capacity"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// RateLimitConfig throttles completion calls.
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Capacity   int           `mapstructure:"capacity"`
	RefillRate time.Duration `mapstructure:"refill_rate"`
}

// TelemetryConfig toggles tracing and metrics.
type TelemetryConfig struct {
	EnableTracing    bool   `mapstructure:"enable_tracing"`
	EnableMetrics    bool   `mapstructure:"enable_metrics"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName(internal.DefaultAppName)
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()
	// weave.summary_fraction becomes LOREWEAVE_WEAVE_SUMMARY_FRACTION
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weave.model", "gpt-3.5-turbo")
	v.SetDefault("weave.temperature", 0.0)
	v.SetDefault("weave.presence_penalty", 0.0)
	v.SetDefault("weave.frequency_penalty", 0.0)
	v.SetDefault("weave.summary_fraction", 0.1)
	v.SetDefault("weave.context_window", 0)
	v.SetDefault("weave.parallelism", 0)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.organization", "")
	v.SetDefault("openai.timeout", "60s")

	v.SetDefault("storage.backend", "libsql")
	v.SetDefault("storage.libsql_path", internal.DefaultLibSQLPath)
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", internal.DefaultRedisPrefix)
	v.SetDefault("storage.postgres_url", "")

	v.SetDefault("tokenizer.kind", "tiktoken")
	v.SetDefault("tokenizer.encoding", "p50k_base")
	v.SetDefault("tokenizer.cache_enabled", true)
	v.SetDefault("tokenizer.cache_capacity", 4096)
	v.SetDefault("tokenizer.cache_ttl_seconds", 3600)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.capacity", 10)
	v.SetDefault("ratelimit.refill_rate", "1s")

	v.SetDefault("telemetry.enable_tracing", false)
	v.SetDefault("telemetry.enable_metrics", false)
	v.SetDefault("telemetry.metrics_namespace", internal.DefaultAppName)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Validate checks ranges and enumerations. Model capacity checks live with the model
// table in the weave package.
func (c *Config) Validate() error {
	w := c.Weave
	if w.SummaryFraction <= 0 || w.SummaryFraction > 1 {
		return fmt.Errorf("%w: weave.summary_fraction %v must be in (0, 1]", ErrInvalidConfig, w.SummaryFraction)
	}
	if w.Temperature < 0 || w.Temperature > 2 {
		return fmt.Errorf("%w: weave.temperature %v must be in [0, 2]", ErrInvalidConfig, w.Temperature)
	}
	if w.PresencePenalty < -2 || w.PresencePenalty > 2 {
		return fmt.Errorf("%w: weave.presence_penalty %v must be in [-2, 2]", ErrInvalidConfig, w.PresencePenalty)
	}
	if w.FrequencyPenalty < -2 || w.FrequencyPenalty > 2 {
		return fmt.Errorf("%w: weave.frequency_penalty %v must be in [-2, 2]", ErrInvalidConfig, w.FrequencyPenalty)
	}
	if w.ContextWindow < 0 {
		return fmt.Errorf("%w: weave.context_window must not be negative", ErrInvalidConfig)
	}

	switch c.Storage.Backend {
	case "memory", "libsql", "redis":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("%w: storage.postgres_url is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	switch c.Tokenizer.Kind {
	case "tiktoken", "heuristic":
	default:
		return fmt.Errorf("%w: unknown tokenizer.kind %q", ErrInvalidConfig, c.Tokenizer.Kind)
	}

	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0) {
		return fmt.Errorf("%w: ratelimit needs a positive capacity and refill_rate", ErrInvalidConfig)
	}

	return nil
}
