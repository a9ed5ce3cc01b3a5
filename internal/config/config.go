// Package config provides runtime configuration for the render engine.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the engine. Values come from environment
// variables with sensible defaults; the CLI layer may override them from
// flags before the server starts.
type Config struct {
	// Server settings
	Host string
	Port int

	// Application brief driving every generation.
	Brief string
	// BriefAttachmentPaths are files (images, documents) attached to the
	// brief and forwarded with every prompt.
	BriefAttachmentPaths []string

	// Prompt context budgeting
	HistoryLimit    int
	HistoryMaxBytes int

	// Session lifecycle. A zero TTL disables expiry.
	SessionTTL time.Duration
	SessionCap int

	// Handoff lifetimes, measured from generation completion. In-flight
	// handoffs never expire.
	PendingTTL time.Duration
	StreamTTL  time.Duration

	// Upstream generation
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	MaxOutputTokens   int
	ReasoningEffort   string
	GenerationTimeout time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Host:                 getEnv("VAPORVIBE_HOST", "127.0.0.1"),
		Port:                 getEnvInt("VAPORVIBE_PORT", 3000),
		Brief:                getEnv("VAPORVIBE_BRIEF", ""),
		BriefAttachmentPaths: getEnvList("VAPORVIBE_BRIEF_ATTACHMENTS"),
		HistoryLimit:         getEnvInt("VAPORVIBE_HISTORY_LIMIT", 30),
		HistoryMaxBytes:      getEnvInt("VAPORVIBE_HISTORY_MAX_BYTES", 200_000),
		SessionTTL:           getEnvDuration("VAPORVIBE_SESSION_TTL", 0),
		SessionCap:           getEnvInt("VAPORVIBE_SESSION_CAP", 200),
		PendingTTL:           getEnvDuration("VAPORVIBE_PENDING_TTL", 3*time.Minute),
		StreamTTL:            getEnvDuration("VAPORVIBE_STREAM_TTL", 5*time.Minute),
		Provider:             getEnv("VAPORVIBE_PROVIDER", "openai"),
		Model:                getEnv("VAPORVIBE_MODEL", "gpt-5"),
		APIKey:               getEnv("OPENAI_API_KEY", ""),
		BaseURL:              getEnv("VAPORVIBE_BASE_URL", ""),
		MaxOutputTokens:      getEnvInt("VAPORVIBE_MAX_OUTPUT_TOKENS", 128_000),
		ReasoningEffort:      getEnv("VAPORVIBE_REASONING_EFFORT", "low"),
		GenerationTimeout:    getEnvDuration("VAPORVIBE_GENERATION_TIMEOUT", 5*time.Minute),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
