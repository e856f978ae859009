package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/promptsentry/promptsentry/internal/api"
	"github.com/promptsentry/promptsentry/internal/chread"
	"github.com/promptsentry/promptsentry/internal/detect"
	"github.com/promptsentry/promptsentry/internal/patterns"
	"github.com/promptsentry/promptsentry/internal/storage"
	"github.com/promptsentry/promptsentry/internal/store"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("SENTRY_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("SENTRY_HTTP_PORT", "8080")
	blockThreshold := envOrDefaultFloat("SENTRY_BLOCK_THRESHOLD", 0.6)
	warnThreshold := envOrDefaultFloat("SENTRY_WARN_THRESHOLD", 0.3)
	rulesFile := os.Getenv("SENTRY_RULES_FILE")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	cacheTTL := envOrDefaultInt("SENTRY_AUTH_CACHE_TTL_S", 30)

	logger.Info("starting sentry server",
		zap.String("http_port", httpPort),
		zap.Float64("block_threshold", blockThreshold),
		zap.Float64("warn_threshold", warnThreshold),
	)

	// Pattern library: built-in defaults, optionally extended with a YAML
	// bundle shipped alongside the binary.
	library := patterns.NewDefaultLibrary()
	if rulesFile != "" {
		bundle, err := patterns.LoadBundle(rulesFile)
		if err != nil {
			logger.Fatal("failed to load rules file",
				zap.String("path", rulesFile),
				zap.Error(err),
			)
		}
		for _, p := range bundle {
			if err := library.Add(p); err != nil {
				logger.Fatal("failed to install bundled rule",
					zap.String("rule", p.Name),
					zap.Error(err),
				)
			}
		}
		logger.Info("rules file loaded",
			zap.String("path", rulesFile),
			zap.Int("rules", len(bundle)),
		)
	}

	// Detector
	detectCfg := detect.DefaultConfig()
	detectCfg.BlockThreshold = blockThreshold
	detectCfg.WarnThreshold = warnThreshold
	detector, err := detect.NewDetector(detectCfg, library, logger)
	if err != nil {
		logger.Fatal("failed to build detector", zap.Error(err))
	}

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool (required for HTTP API)
	var pgStore *store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")

		// Custom rules persisted by the API join the live library.
		loadStoredRules(context.Background(), pgStore, library, logger)
	} else {
		logger.Fatal("POSTGRES_DSN is required")
	}

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// HTTP API server
	deps := &api.Dependencies{
		Store:    pgStore,
		Detector: detector,
		Writer:   writer,
		Reader:   chReader,
		Logger:   logger,
		CacheTTL: time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("sentry server stopped")
}

// loadStoredRules installs every persisted custom rule into the live
// library. A rule that no longer compiles (or collides with a bundled rule)
// is logged and skipped rather than blocking startup.
func loadStoredRules(ctx context.Context, pgStore *store.Store, library *patterns.Library, logger *zap.Logger) {
	rules, err := pgStore.ListAllCustomRules(ctx)
	if err != nil {
		logger.Warn("failed to load stored custom rules", zap.Error(err))
		return
	}
	loaded := 0
	for _, r := range rules {
		p, err := r.Pattern()
		if err != nil {
			logger.Warn("skipping stored rule", zap.String("rule", r.Name), zap.Error(err))
			continue
		}
		if err := library.Add(p); err != nil {
			logger.Warn("skipping stored rule", zap.String("rule", r.Name), zap.Error(err))
			continue
		}
		loaded++
	}
	if loaded > 0 {
		logger.Info("stored custom rules loaded", zap.Int("rules", loaded))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
