// Package config loads runtime configuration from environment variables.
package config

import (
	"os"
	"strconv"
)

// Config holds runtime configuration for the ledger service.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// LogLevel controls the slog level (DEBUG, INFO, WARN, ERROR).
	LogLevel string

	// StorageDriver selects the event store backend: "postgres", "sqlite"
	// or "memory". When empty it is derived from DatabaseURL.
	StorageDriver string

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// SQLitePath is the SQLite database file used when no Postgres URL
	// is configured.
	SQLitePath string

	// SigningSeed is the base64-encoded Ed25519 seed for the ledger
	// signing key. When empty the serve command generates and persists
	// one under the data directory (development only).
	SigningSeed string

	// AuthPublicKey is the base64-encoded Ed25519 public key used to
	// verify caller JWTs. When empty the API rejects all bearer tokens.
	AuthPublicKey string

	// RegistryPath points at the event type registry YAML. When empty
	// the built-in registry is used.
	RegistryPath string

	// CORSAllowedOrigins is a comma-separated origin allowlist. Empty
	// allows all origins.
	CORSAllowedOrigins string

	// RedisAddr enables the Redis-backed outbox dispatcher and rate
	// limiter when set (host:port).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RedisStream is the stream key the outbox dispatcher publishes to.
	RedisStream string

	// RatePerSecond and RateBurst shape the per-tenant append limiter.
	RatePerSecond float64
	RateBurst     int

	// EvidenceBackend selects the evidence vault: "fs", "s3", "gcs" or
	// "memory".
	EvidenceBackend string
	EvidenceDir     string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Prefix        string
	GCSBucket       string
	GCSPrefix       string

	// OTLPEndpoint enables OpenTelemetry export when set (host:port).
	OTLPEndpoint string

	// Production hardens startup: refuses to auto-generate signing keys.
	Production bool
}

// Load reads configuration from the environment, applying defaults
// suitable for local development.
func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		StorageDriver:      os.Getenv("STORAGE_DRIVER"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "data/veriledger.db"),
		SigningSeed:        os.Getenv("SIGNING_SEED"),
		AuthPublicKey:      os.Getenv("AUTH_PUBLIC_KEY"),
		RegistryPath:       os.Getenv("REGISTRY_PATH"),
		CORSAllowedOrigins: os.Getenv("CORS_ALLOWED_ORIGINS"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisStream:        getEnv("REDIS_STREAM", "ledger.events"),
		RatePerSecond:      getEnvFloat("RATE_PER_SECOND", 50),
		RateBurst:          getEnvInt("RATE_BURST", 100),
		EvidenceBackend:    getEnv("EVIDENCE_BACKEND", "fs"),
		EvidenceDir:        getEnv("EVIDENCE_DIR", "data/evidence"),
		S3Bucket:           os.Getenv("EVIDENCE_S3_BUCKET"),
		S3Region:           os.Getenv("EVIDENCE_S3_REGION"),
		S3Endpoint:         os.Getenv("EVIDENCE_S3_ENDPOINT"),
		S3Prefix:           os.Getenv("EVIDENCE_S3_PREFIX"),
		GCSBucket:          os.Getenv("EVIDENCE_GCS_BUCKET"),
		GCSPrefix:          os.Getenv("EVIDENCE_GCS_PREFIX"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Production:         getEnvBool("VERILEDGER_PRODUCTION", false),
	}

	if cfg.StorageDriver == "" {
		if cfg.DatabaseURL != "" {
			cfg.StorageDriver = "postgres"
		} else {
			cfg.StorageDriver = "sqlite"
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
