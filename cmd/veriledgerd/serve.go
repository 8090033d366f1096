package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veriledger/veriledger/pkg/api"
	"github.com/veriledger/veriledger/pkg/auth"
	"github.com/veriledger/veriledger/pkg/config"
	"github.com/veriledger/veriledger/pkg/crypto"
	"github.com/veriledger/veriledger/pkg/evidence"
	"github.com/veriledger/veriledger/pkg/ledger"
	"github.com/veriledger/veriledger/pkg/observability"
	"github.com/veriledger/veriledger/pkg/outbox"
	"github.com/veriledger/veriledger/pkg/registry"
	"github.com/veriledger/veriledger/pkg/store"
	"github.com/veriledger/veriledger/pkg/validate"
)

// dataDir holds locally persisted state in lite mode: the SQLite database,
// the evidence vault, and the auto-generated signing key.
const dataDir = "data"

// runServeCmd wires storage, crypto, registry, and the HTTP edge, then
// serves until SIGINT/SIGTERM. Configuration is environment-driven; args
// are accepted for dispatcher compatibility and ignored.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, stdout); err != nil {
		fmt.Fprintf(stderr, "veriledgerd: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	fmt.Fprintf(stdout, "%sVeriLedger starting...%s\n", ColorBold+ColorBlue, ColorReset)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	signer, err := loadOrGenerateSigner(cfg, logger, stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Ledger signing key: %s%s%s\n", ColorBold+ColorGreen, signer.PublicBase64(), ColorReset)

	if cfg.RegistryPath == "" {
		return fmt.Errorf("REGISTRY_PATH is required: the registry defines which event types the ledger accepts")
	}
	reg, err := registry.LoadFile(cfg.RegistryPath)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "registry loaded", "path", cfg.RegistryPath, "event_types", len(reg.Types()))

	vault, err := evidence.New(ctx, evidence.Config{
		Backend: evidence.Backend(cfg.EvidenceBackend),
		Dir:     cfg.EvidenceDir,
		S3: evidence.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		},
		GCS: evidence.GCSParams{
			Bucket: cfg.GCSBucket,
			Prefix: cfg.GCSPrefix,
		},
	})
	if err != nil {
		return fmt.Errorf("evidence vault: %w", err)
	}

	coordinator := ledger.NewCoordinator(st, validate.NewGate(reg), ledger.NewBuilder(signer), logger)

	var (
		limiter    api.Limiter
		dispatcher *outbox.Dispatcher
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		defer client.Close()

		limiter = api.NewRedisLimiter(client, cfg.RatePerSecond, cfg.RateBurst)
		dispatcher = outbox.NewDispatcher(st, outbox.NewRedisPublisher(client, cfg.RedisStream), logger)
		logger.InfoContext(ctx, "redis connected", "addr", cfg.RedisAddr, "stream", cfg.RedisStream)
	} else {
		limiter = api.NewLocalLimiter(cfg.RatePerSecond, cfg.RateBurst)
		logger.WarnContext(ctx, "REDIS_ADDR not set: outbox rows stay pending and rate limits are per-process")
	}

	var telemetry *observability.Provider
	if cfg.OTLPEndpoint != "" {
		telemetry, err = observability.New(ctx, &observability.Config{
			ServiceName:    "veriledger",
			ServiceVersion: version,
			Environment:    environment(cfg),
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			BatchTimeout:   5 * time.Second,
			Enabled:        true,
			Insecure:       !cfg.Production,
		})
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
		if dispatcher != nil {
			dispatcher = dispatcher.WithTelemetry(telemetry)
		}
	}

	var verifier *auth.Verifier
	if cfg.AuthPublicKey != "" {
		verifier, err = auth.NewVerifierFromBase64(cfg.AuthPublicKey)
		if err != nil {
			return fmt.Errorf("AUTH_PUBLIC_KEY: %w", err)
		}
	} else {
		logger.WarnContext(ctx, "AUTH_PUBLIC_KEY not set: all bearer tokens will be rejected")
	}

	srv := api.NewServer(api.Config{
		Addr:        ":" + cfg.Port,
		CORSOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		Verifier:    verifier,
		Limiter:     limiter,
		Telemetry:   telemetry,
	}, coordinator, st, vault, logger)

	if dispatcher != nil {
		go func() { _ = dispatcher.Run(ctx) }()
	}

	logger.InfoContext(ctx, "ready",
		"addr", ":"+cfg.Port,
		"storage", cfg.StorageDriver,
		"evidence", cfg.EvidenceBackend,
	)
	return srv.Start(ctx)
}

// openStore connects the configured event store. Postgres is pinged eagerly
// so a bad DSN fails startup, not the first append.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StorageDriver {
	case "postgres":
		st, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		logger.InfoContext(ctx, "postgres connected")
		return st, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.InfoContext(ctx, "lite mode: using sqlite", "path", cfg.SQLitePath)
		return st, nil
	case "memory":
		logger.WarnContext(ctx, "memory storage: events are lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// loadOrGenerateSigner resolves the ledger signing key: SIGNING_SEED wins,
// then the persisted key file; in development a missing key is generated
// and persisted so restarts keep the same chain identity.
func loadOrGenerateSigner(cfg *config.Config, logger *slog.Logger, stdout io.Writer) (*crypto.Signer, error) {
	if cfg.SigningSeed != "" {
		signer, err := crypto.NewSignerFromSeed(cfg.SigningSeed)
		if err != nil {
			return nil, fmt.Errorf("SIGNING_SEED: %w", err)
		}
		return signer, nil
	}

	keyPath := filepath.Join(dataDir, "signing.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		signer, err := crypto.NewSignerFromSeed(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", keyPath, err)
		}
		logger.Info("loaded persistent signing key", "path", keyPath)
		return signer, nil
	}

	if cfg.Production {
		return nil, fmt.Errorf("production mode requires SIGNING_SEED or %s to exist", keyPath)
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	seedB64, publicB64, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(seedB64+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("save signing key: %w", err)
	}
	pubPath := filepath.Join(dataDir, "signing.pub")
	if err := os.WriteFile(pubPath, []byte(publicB64+"\n"), 0644); err != nil {
		logger.Warn("failed to save public key file", "path", pubPath, "error", err)
	}

	fmt.Fprintf(stdout, "\n%sSECURITY WARNING: using an auto-generated signing key.%s\n", ColorBold+ColorYellow, ColorReset)
	fmt.Fprintf(stdout, "   Key saved to: %s\n", keyPath)
	fmt.Fprintf(stdout, "   In production, set SIGNING_SEED from a KMS-managed secret.\n\n")

	return crypto.NewSignerFromSeed(seedB64)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func environment(cfg *config.Config) string {
	if cfg.Production {
		return "production"
	}
	return "development"
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
