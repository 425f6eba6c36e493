// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Upstream assistant run API.
	AssistantBaseURL string
	AssistantAPIKey  string
	AssistantID      string // global fallback; brands may declare their own
	PollInterval     time.Duration
	PollTimeout      time.Duration
	KeepAlive        time.Duration

	// Brand allow-list, JSON object keyed by brand key.
	BrandsJSON string

	// Database settings.
	DatabaseURL string

	// JWT settings for the admin surface.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration
	AdminKeyHash      string // Argon2id hash of the operator admin key.

	// Retrieval settings.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Embedding provider settings.
	EmbeddingProvider   string // "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	OllamaURL           string
	OllamaModel         string

	// Sink settings.
	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	SMTPFrom          string
	HandoffTo         []string // default recipients when a brand declares none, comma-separated in env
	SheetsCredentials string   // path to a service-account JSON file
	SheetsID          string
	SheetsRange       string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel        string
	LogBufferSize   int
	LogFlushTimeout time.Duration
	RetrievalTopK   int
	ChatRateLimit   int // requests per minute per visitor/IP
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("EMLAK_PORT", 8080),
		ReadTimeout:         envDuration("EMLAK_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("EMLAK_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes: int64(envInt("EMLAK_MAX_REQUEST_BODY_BYTES", 256*1024)),
		AssistantBaseURL:    envStr("OPENAI_BASE", "https://api.openai.com/v1"),
		AssistantAPIKey:     envStr("OPENAI_API_KEY", ""),
		AssistantID:         envStr("ASSISTANT_ID", ""),
		PollInterval:        envDuration("EMLAK_POLL_INTERVAL", 1200*time.Millisecond),
		PollTimeout:         envDuration("EMLAK_POLL_TIMEOUT", 180*time.Second),
		KeepAlive:           envDuration("EMLAK_KEEPALIVE", 20*time.Second),
		BrandsJSON:          envStr("BRANDS_JSON", envStr("BRAND_JSON", "{}")),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath:   envStr("EMLAK_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("EMLAK_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("EMLAK_JWT_EXPIRATION", 24*time.Hour),
		AdminKeyHash:        envStr("EMLAK_ADMIN_KEY_HASH", ""),
		QdrantURL:           envStr("QDRANT_URL", ""),
		QdrantAPIKey:        envStr("QDRANT_API_KEY", ""),
		QdrantCollection:    envStr("QDRANT_COLLECTION", "knowledge_chunks"),
		EmbeddingProvider:   envStr("EMLAK_EMBEDDING_PROVIDER", "openai"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("EMLAK_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMLAK_EMBEDDING_DIMENSIONS", 1536),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		SMTPHost:            envStr("EMLAK_SMTP_HOST", ""),
		SMTPPort:            envInt("EMLAK_SMTP_PORT", 587),
		SMTPUser:            envStr("EMLAK_SMTP_USER", ""),
		SMTPPassword:        envStr("EMLAK_SMTP_PASSWORD", ""),
		SMTPFrom:            envStr("EMAIL_FROM", "noreply@example.com"),
		HandoffTo:           envList("HANDOFF_TO"),
		SheetsCredentials:   envStr("SHEETS_CREDENTIALS_FILE", ""),
		SheetsID:            envStr("SHEETS_SPREADSHEET_ID", ""),
		SheetsRange:         envStr("SHEETS_RANGE", "Leads!A1"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "emlak-ymh"),
		LogLevel:            envStr("EMLAK_LOG_LEVEL", "info"),
		LogBufferSize:       envInt("EMLAK_LOG_BUFFER_SIZE", 256),
		LogFlushTimeout:     envDuration("EMLAK_LOG_FLUSH_TIMEOUT", 500*time.Millisecond),
		RetrievalTopK:       envInt("EMLAK_RETRIEVAL_TOP_K", 5),
		ChatRateLimit:       envInt("EMLAK_CHAT_RATE_LIMIT", 30),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.AssistantAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: EMLAK_POLL_INTERVAL must be positive")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("config: EMLAK_POLL_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: EMLAK_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: EMLAK_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("config: EMLAK_RETRIEVAL_TOP_K must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envList splits a comma-separated environment variable, dropping empty
// entries. An unset variable yields nil.
func envList(key string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
