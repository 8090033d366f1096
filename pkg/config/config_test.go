package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any ambient environment so defaults are observable.
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "STORAGE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
		"SIGNING_SEED", "AUTH_PUBLIC_KEY", "REGISTRY_PATH", "CORS_ALLOWED_ORIGINS",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_STREAM",
		"RATE_PER_SECOND", "RATE_BURST",
		"EVIDENCE_BACKEND", "EVIDENCE_DIR", "EVIDENCE_S3_BUCKET",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "VERILEDGER_PRODUCTION",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StorageDriver)
	assert.Equal(t, "data/veriledger.db", cfg.SQLitePath)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.SigningSeed)
	assert.Empty(t, cfg.AuthPublicKey)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "ledger.events", cfg.RedisStream)
	assert.Equal(t, float64(50), cfg.RatePerSecond)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.Equal(t, "fs", cfg.EvidenceBackend)
	assert.Equal(t, "data/evidence", cfg.EvidenceDir)
	assert.False(t, cfg.Production)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://ledger:secret@db:5432/veriledger")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("SIGNING_SEED", "c2VlZA==")
	t.Setenv("AUTH_PUBLIC_KEY", "cHVi")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_STREAM", "audit.events")
	t.Setenv("RATE_PER_SECOND", "12.5")
	t.Setenv("RATE_BURST", "25")
	t.Setenv("EVIDENCE_BACKEND", "s3")
	t.Setenv("EVIDENCE_S3_BUCKET", "ledger-evidence")
	t.Setenv("EVIDENCE_S3_REGION", "eu-west-1")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com")
	t.Setenv("VERILEDGER_PRODUCTION", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StorageDriver, "driver is derived from DATABASE_URL")
	assert.Equal(t, "postgres://ledger:secret@db:5432/veriledger", cfg.DatabaseURL)
	assert.Equal(t, "c2VlZA==", cfg.SigningSeed)
	assert.Equal(t, "cHVi", cfg.AuthPublicKey)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "audit.events", cfg.RedisStream)
	assert.Equal(t, 12.5, cfg.RatePerSecond)
	assert.Equal(t, 25, cfg.RateBurst)
	assert.Equal(t, "s3", cfg.EvidenceBackend)
	assert.Equal(t, "ledger-evidence", cfg.S3Bucket)
	assert.Equal(t, "eu-west-1", cfg.S3Region)
	assert.Equal(t, "https://ops.example.com", cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Production)
}

func TestLoad_ExplicitDriverWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://ledger@db/veriledger")
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg := Load()

	assert.Equal(t, "memory", cfg.StorageDriver)
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("RATE_PER_SECOND", "lots")
	t.Setenv("RATE_BURST", "")
	t.Setenv("VERILEDGER_PRODUCTION", "yes-please")

	cfg := Load()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, float64(50), cfg.RatePerSecond)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.False(t, cfg.Production)
}
