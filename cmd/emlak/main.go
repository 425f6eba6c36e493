package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eekr1/emlak-ymh/internal/assistant"
	"github.com/eekr1/emlak-ymh/internal/auth"
	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/chatlog"
	"github.com/eekr1/emlak-ymh/internal/config"
	"github.com/eekr1/emlak-ymh/internal/handoff"
	"github.com/eekr1/emlak-ymh/internal/orchestrator"
	"github.com/eekr1/emlak-ymh/internal/ratelimit"
	"github.com/eekr1/emlak-ymh/internal/retrieval"
	"github.com/eekr1/emlak-ymh/internal/server"
	"github.com/eekr1/emlak-ymh/internal/sink"
	"github.com/eekr1/emlak-ymh/internal/storage"
	"github.com/eekr1/emlak-ymh/internal/telemetry"
	"github.com/eekr1/emlak-ymh/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("EMLAK_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("emlak starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Brand allow-list.
	brands, err := brand.NewRegistry(cfg.BrandsJSON)
	if err != nil {
		return fmt.Errorf("brands: %w", err)
	}
	logger.Info("brands loaded", "keys", brands.Keys())

	// Connect to Postgres and migrate.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// JWT manager for the admin surface.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Embedding provider for retrieval and knowledge ingestion.
	embedder := newEmbeddingProvider(cfg, logger)

	// Knowledge retrieval: Qdrant when configured, otherwise pgvector search
	// over the knowledge_chunks table.
	var searcher retrieval.Searcher
	var vectors *retrieval.QdrantIndex
	if cfg.QdrantURL != "" {
		vectors, err = retrieval.NewQdrantIndex(retrieval.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, embedder, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = vectors.Close() }()

		if err := vectors.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		searcher = vectors
		logger.Info("retrieval: qdrant", "collection", cfg.QdrantCollection)
	} else {
		searcher = retrieval.NewPostgresSearcher(db, embedder)
		logger.Info("retrieval: pgvector (no QDRANT_URL)")
	}

	// Handoff delivery sinks. Email is always on (dev mode logs instead of
	// sending when no SMTP host is set); Sheets only when credentials are
	// configured.
	sinks := []handoff.Deliverer{
		sink.NewEmailSink(sink.EmailConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			User:      cfg.SMTPUser,
			Pass:      cfg.SMTPPassword,
			From:      cfg.SMTPFrom,
			DefaultTo: cfg.HandoffTo,
		}, logger),
	}
	if cfg.SheetsCredentials != "" && cfg.SheetsID != "" {
		sheetsSink, err := sink.NewSheetsSink(ctx, sink.SheetsConfig{
			CredentialsFile: cfg.SheetsCredentials,
			SpreadsheetID:   cfg.SheetsID,
			Range:           cfg.SheetsRange,
		}, logger)
		if err != nil {
			return fmt.Errorf("sheets sink: %w", err)
		}
		sinks = append(sinks, sheetsSink)
		logger.Info("sheets sink: enabled", "spreadsheet", cfg.SheetsID)
	}

	// Exactly-once handoff delivery per thread: fingerprints live in Postgres
	// with an in-memory fast path.
	dedup := handoff.NewPersistentDedup(db, logger)
	pipeline := handoff.NewPipeline(dedup, sinks, logger)

	// Async transcript writer.
	buf := chatlog.NewBuffer(db, logger, cfg.LogBufferSize, cfg.LogFlushTimeout)
	buf.Start(ctx)

	// Upstream run API client and the per-turn orchestrator.
	client := assistant.NewClient(cfg.AssistantBaseURL, cfg.AssistantAPIKey, logger)
	orch := orchestrator.New(client, brands, searcher, pipeline, buf, logger, orchestrator.Options{
		DefaultAssistantID: cfg.AssistantID,
		PollInterval:       cfg.PollInterval,
		PollTimeout:        cfg.PollTimeout,
		RetrievalTopK:      cfg.RetrievalTopK,
	})

	// Rate limiters: chat budget per client IP, tighter budget on the token
	// exchange.
	chatLimiter := ratelimit.NewMemoryLimiter(float64(cfg.ChatRateLimit)/60.0, cfg.ChatRateLimit)
	defer func() { _ = chatLimiter.Close() }()
	authLimiter := ratelimit.NewMemoryLimiter(20.0/60.0, 20)
	defer func() { _ = authLimiter.Close() }()

	var vecIndex server.VectorIndex
	if vectors != nil {
		vecIndex = vectors
	}

	srv := server.New(server.Config{
		Runner:              orch,
		Brands:              brands,
		Store:               db,
		Vectors:             vecIndex,
		Embedder:            embedder,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Buffer:              buf,
		ChatLimiter:         chatLimiter,
		AuthLimiter:         authLimiter,
		AdminKeyHash:        cfg.AdminKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		KeepAlive:           cfg.KeepAlive,
		TurnTimeout:         cfg.PollTimeout,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight turns
	// first (they still append transcript entries), then flush the chat log.
	slog.Info("emlak shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	bufCtx, bufCancel := context.WithTimeout(context.Background(), 10*time.Second)
	buf.Drain(bufCtx)
	bufCancel()

	slog.Info("emlak stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration:
// "openai", "ollama", or "noop". A misconfigured provider degrades to noop so
// the chat surface stays up without retrieval.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) retrieval.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return retrieval.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (retrieval disabled)")
		return retrieval.NewNoopProvider(dims)

	default:
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY missing, embedding degraded to noop")
			return retrieval.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return retrieval.NewOpenAIProvider("", cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	}
}
