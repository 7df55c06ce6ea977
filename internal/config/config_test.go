package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.LLM.Enabled())
	assert.Equal(t, 5, cfg.RateLimit.LLMRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.LLMWindow)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "X-User-ID", cfg.UserIDHeader)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodySize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_PRIMARY", "google/gemini-2.5-flash")
	t.Setenv("LLM_TIMEOUT", "3s")
	t.Setenv("LLM_RATE_LIMIT_REQUESTS", "2")
	t.Setenv("LLM_RATE_LIMIT_WINDOW", "30")
	t.Setenv("KB_MATCH_THRESHOLD", "0.8")
	t.Setenv("ALLOW_ANONYMOUS", "yes")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.LLM.Enabled())
	assert.Equal(t, 3*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.RateLimit.LLMRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.LLMWindow)
	assert.InDelta(t, 0.8, cfg.KBMatchThreshold, 1e-9)
	assert.True(t, cfg.AllowAnonymous)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad llm spec", env: map[string]string{"LLM_PRIMARY": "gemini"}},
		{name: "unknown provider", env: map[string]string{"LLM_FALLBACK": "acme/model"}},
		{name: "zero rate limit", env: map[string]string{"CHAT_RATE_LIMIT_REQUESTS": "0"}},
		{name: "threshold out of range", env: map[string]string{"KB_MATCH_THRESHOLD": "1.5"}},
		{name: "empty port", env: map[string]string{"PORT": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvHelpersFallBack(t *testing.T) {
	t.Setenv("SOUQ_TEST_INT", "abc")
	t.Setenv("SOUQ_TEST_DURATION", "soon")
	t.Setenv("SOUQ_TEST_BOOL", "maybe")

	assert.Equal(t, 7, getEnvInt("SOUQ_TEST_INT", 7))
	assert.Equal(t, time.Second, getEnvDuration("SOUQ_TEST_DURATION", time.Second))
	assert.True(t, getEnvBool("SOUQ_TEST_BOOL", true))
	assert.Equal(t, slog.LevelWarn, getEnvLevel("SOUQ_TEST_MISSING", slog.LevelWarn))
}

func TestLoadAcceptsExactMatchThreshold(t *testing.T) {
	t.Setenv("KB_MATCH_THRESHOLD", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cfg.KBMatchThreshold, 1e-9)
}
