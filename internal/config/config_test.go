package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 30, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10, cfg.RateLimit.BucketSize)
	assert.Equal(t, 5.0, cfg.RateLimit.RefillRate)
	assert.Equal(t, time.Second, cfg.RateLimit.SweepInterval)
	assert.Equal(t, 5, cfg.Generation.HistoryLimit)
	assert.True(t, cfg.Realtime.Enabled)

	assert.False(t, cfg.GenerationEnabled())
	assert.False(t, cfg.ModerationActive())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("MODERATION_ENABLED", "true")
	t.Setenv("RATELIMIT_BUCKET_SIZE", "3")
	t.Setenv("RATELIMIT_WINDOW", "10s")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("MODEL_TEXT_SMART", "gpt-4.1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.True(t, cfg.PrimaryEnabled())
	assert.False(t, cfg.GoogleEnabled())
	assert.True(t, cfg.GenerationEnabled())
	assert.True(t, cfg.ModerationActive())
	assert.Equal(t, 3, cfg.RateLimit.BucketSize)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "gpt-4.1", cfg.Model.TextSmart)
}

func TestLoadConfigGenerationAliases(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("HISTORY_LIMIT", "8")
	t.Setenv("MAX_TOKENS", "256")
	t.Setenv("TEMPERATURE", "0.2")
	t.Setenv("GENERATION_MAX_TOKENS", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Generation.HistoryLimit)
	assert.Equal(t, 256, cfg.Generation.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Generation.Temperature, 1e-9)

	// the prefixed name wins
	t.Setenv("GENERATION_MAX_TOKENS", "1024")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Generation.MaxTokens)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{
		JWT:       JWTConfig{Secret: "s"},
		Database:  DatabaseConfig{Driver: "mongo"},
		RateLimit: RateLimitConfig{BucketSize: 10, RefillRate: 5},
	}
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("INFO")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	logger, err = NewLogger("DEBUG")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
