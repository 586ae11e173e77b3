package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     ProviderConfig   `mapstructure:"openai"`
	Gemini     ProviderConfig   `mapstructure:"gemini"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Generation GenerationConfig `mapstructure:"generation"`
	Model      ModelConfig      `mapstructure:"model"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or memory
	URL    string `mapstructure:"url"`
}

type ProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type ModerationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"window"`
	MaxRequests   int           `mapstructure:"max_requests"`
	BucketSize    int           `mapstructure:"bucket_size"`
	RefillRate    float64       `mapstructure:"refill_rate"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type GenerationConfig struct {
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float64       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// ModelConfig overrides the model names of the routing table. Empty values keep the built-in model.
type ModelConfig struct {
	TextDefault  string `mapstructure:"text_default"`
	TextFast     string `mapstructure:"text_fast"`
	TextSmart    string `mapstructure:"text_smart"`
	TextCode     string `mapstructure:"text_code"`
	TextGoogle   string `mapstructure:"text_google"`
	ImageDefault string `mapstructure:"image_default"`
	ImageFast    string `mapstructure:"image_fast"`
	ImageSmart   string `mapstructure:"image_smart"`
}

// PrimaryEnabled reports whether the OpenAI-backed provider has credentials.
func (c *Config) PrimaryEnabled() bool { return c.OpenAI.APIKey != "" }

// GoogleEnabled reports whether the Gemini-backed provider has credentials.
func (c *Config) GoogleEnabled() bool { return c.Gemini.APIKey != "" }

// GenerationEnabled is false when no provider is configured; plain messaging keeps working.
func (c *Config) GenerationEnabled() bool { return c.PrimaryEnabled() || c.GoogleEnabled() }

// ModerationActive requires both the flag and the primary provider, which hosts the moderation endpoint.
func (c *Config) ModerationActive() bool { return c.Moderation.Enabled && c.PrimaryEnabled() }

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "messaging.db")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("moderation.enabled", false)
	v.SetDefault("moderation.model", "")
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("ratelimit.max_requests", 30)
	v.SetDefault("ratelimit.bucket_size", 10)
	v.SetDefault("ratelimit.refill_rate", 5.0)
	v.SetDefault("ratelimit.sweep_interval", time.Second)
	v.SetDefault("generation.max_tokens", 500)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.timeout", 60*time.Second)
	v.SetDefault("generation.history_limit", 5)
	for _, key := range []string{
		"text_default", "text_fast", "text_smart", "text_code", "text_google",
		"image_default", "image_fast", "image_smart",
	} {
		v.SetDefault("model."+key, "")
	}
}

// envAliases are the short generation names accepted next to the GENERATION_ prefixed ones.
// The prefixed name wins when both are set.
var envAliases = map[string]string{
	"generation.history_limit": "HISTORY_LIMIT",
	"generation.max_tokens":    "MAX_TOKENS",
	"generation.temperature":   "TEMPERATURE",
}

func bindEnvAliases(v *viper.Viper) error {
	for key, alias := range envAliases {
		full := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, full, alias); err != nil {
			return fmt.Errorf("failed to bind %s: %w", alias, err)
		}
	}
	return nil
}

// LoadConfig reads an optional config file, a .env file if present and the environment.
// Environment variables win; nested keys map to upper-case underscore names (ratelimit.bucket_size -> RATELIMIT_BUCKET_SIZE).
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvAliases(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (valid: sqlite, postgres, memory)", c.Database.Driver)
	}
	if c.RateLimit.BucketSize < 1 {
		return errors.New("RATELIMIT_BUCKET_SIZE must be at least 1")
	}
	if c.RateLimit.RefillRate < 0 {
		return errors.New("RATELIMIT_REFILL_RATE must not be negative")
	}
	if c.Generation.HistoryLimit < 0 {
		return errors.New("GENERATION_HISTORY_LIMIT must not be negative")
	}
	return nil
}
