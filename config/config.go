package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"regchat/chunking"
	"regchat/embedding"
	"regchat/rag"
	"regchat/security"
	"regchat/vectordb"
)

// Config holds all configuration for the application. Values come from the
// environment (a .env file is honored when present); everything except the
// API key has a default.
type Config struct {
	APIKey          string // GOOGLE_API_KEY, required
	GenerationModel string
	Production      bool

	ListenAddr   string
	DatabaseDSN  string
	AuditLogPath string // empty: audit events go to stderr

	RateLimitCalls  int
	RateLimitPeriod time.Duration

	Chunking  chunking.Config
	Embedding embedding.Config
	Vector    vectordb.Config
	RAG       rag.Config
}

// Load reads configuration from the environment. A missing API key is fatal
// at startup and surfaces as ErrConfigurationMissing.
func Load() (Config, error) {
	// Missing .env is fine; real env vars still apply.
	_ = godotenv.Load()

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return Config{}, fmt.Errorf("%w: GOOGLE_API_KEY is not set", security.ErrConfigurationMissing)
	}

	cfg := Config{
		APIKey:          apiKey,
		GenerationModel: envOr("GOOGLE_LLM_MODEL_NAME", "gemini-1.5-flash"),
		Production:      os.Getenv("REGCHAT_ENV") == "production",

		ListenAddr:   envOr("REGCHAT_ADDR", ":8080"),
		DatabaseDSN:  envOr("REGCHAT_DB", "file:chat.db"),
		AuditLogPath: os.Getenv("REGCHAT_AUDIT_LOG"),

		RateLimitCalls:  envInt("REGCHAT_RATE_MAX_CALLS", 20),
		RateLimitPeriod: envDuration("REGCHAT_RATE_PERIOD", time.Minute),

		Chunking:  chunking.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Vector:    vectordb.DefaultConfig(),
		RAG:       rag.DefaultConfig(),
	}

	cfg.Embedding.Model = envOr("GOOGLE_EMBEDDING_MODEL_NAME", cfg.Embedding.Model)
	cfg.Chunking.MaxChunkSize = envInt("REGCHAT_CHUNK_SIZE", cfg.Chunking.MaxChunkSize)
	cfg.Chunking.OverlapSize = envInt("REGCHAT_CHUNK_OVERLAP", cfg.Chunking.OverlapSize)
	cfg.Vector.Path = envOr("REGCHAT_INDEX_DIR", cfg.Vector.Path)
	cfg.Vector.RebuildOnStart = envBool("REGCHAT_REBUILD_INDEX", cfg.Vector.RebuildOnStart)
	cfg.RAG.TopK = envInt("REGCHAT_TOP_K", cfg.RAG.TopK)

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
