// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/ashureev/souq-assistant/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	FrontendURL string
	LogLevel    slog.Level

	DBPath           string
	KBPath           string
	KBMatchThreshold float64

	LLM       LLMConfig
	RateLimit RateLimitConfig

	IdempotencyTTL  time.Duration
	DraftTTL        time.Duration
	JanitorInterval time.Duration

	PublishURL     string
	PublishTimeout time.Duration

	MaxRequestBodySize int64
	HealthCheckTimeout time.Duration
	UserIDHeader       string
	AllowAnonymous     bool

	ConversationLog ConversationLogConfig
}

// LLMConfig selects the language model fallback. Specs are "provider/model".
type LLMConfig struct {
	Primary  string
	Fallback string
	Timeout  time.Duration
}

// Enabled reports whether any provider is configured.
func (c LLMConfig) Enabled() bool {
	return c.Primary != "" || c.Fallback != ""
}

// RateLimitConfig holds the per-user limiter settings.
type RateLimitConfig struct {
	LLMRequests  int
	LLMWindow    time.Duration
	ChatRequests int
	ChatWindow   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),

		DBPath:           getEnv("DB_PATH", "./data/assistant.db"),
		KBPath:           getEnv("KB_PATH", ""),
		KBMatchThreshold: getEnvFloat("KB_MATCH_THRESHOLD", kb.DefaultThreshold),

		LLM: LLMConfig{
			Primary:  getEnv("LLM_PRIMARY", ""),
			Fallback: getEnv("LLM_FALLBACK", ""),
			Timeout:  getEnvDuration("LLM_TIMEOUT", llm.DefaultTimeout),
		},
		RateLimit: RateLimitConfig{
			LLMRequests:  getEnvInt("LLM_RATE_LIMIT_REQUESTS", 5),
			LLMWindow:    getEnvDuration("LLM_RATE_LIMIT_WINDOW", time.Minute),
			ChatRequests: getEnvInt("CHAT_RATE_LIMIT_REQUESTS", 30),
			ChatWindow:   getEnvDuration("CHAT_RATE_LIMIT_WINDOW", time.Minute),
		},

		IdempotencyTTL:  getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		DraftTTL:        getEnvDuration("DRAFT_TTL", 30*24*time.Hour),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", 10*time.Minute),

		PublishURL:     getEnv("PUBLISH_URL", ""),
		PublishTimeout: getEnvDuration("PUBLISH_TIMEOUT", 10*time.Second),

		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		UserIDHeader:       getEnv("USER_ID_HEADER", "X-User-ID"),
		AllowAnonymous:     getEnvBool("ALLOW_ANONYMOUS", false),

		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.KBMatchThreshold <= 0 || c.KBMatchThreshold > 1 {
		return fmt.Errorf("KB_MATCH_THRESHOLD must be in (0, 1]")
	}
	for name, spec := range map[string]string{"LLM_PRIMARY": c.LLM.Primary, "LLM_FALLBACK": c.LLM.Fallback} {
		if spec == "" {
			continue
		}
		if _, err := llm.ParseSpec(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.RateLimit.LLMRequests <= 0 || c.RateLimit.ChatRequests <= 0 {
		return fmt.Errorf("rate limit request counts must be > 0")
	}
	if c.RateLimit.LLMWindow <= 0 || c.RateLimit.ChatWindow <= 0 {
		return fmt.Errorf("rate limit windows must be > 0")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be > 0")
	}
	if c.DraftTTL <= 0 {
		return fmt.Errorf("DRAFT_TTL must be > 0")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.UserIDHeader == "" {
		return fmt.Errorf("USER_ID_HEADER cannot be empty")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
