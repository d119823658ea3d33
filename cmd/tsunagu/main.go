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

	"github.com/ashita-ai/tsunagu/internal/agreement"
	"github.com/ashita-ai/tsunagu/internal/config"
	"github.com/ashita-ai/tsunagu/internal/controlplane"
	"github.com/ashita-ai/tsunagu/internal/delegation"
	"github.com/ashita-ai/tsunagu/internal/rdf"
	"github.com/ashita-ai/tsunagu/internal/server"
	"github.com/ashita-ai/tsunagu/internal/sparql"
	"github.com/ashita-ai/tsunagu/internal/storage"
	"github.com/ashita-ai/tsunagu/internal/sync"
	"github.com/ashita-ai/tsunagu/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("TSUNAGU_LOG_LEVEL") == "debug" {
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

	slog.Info("tsunagu starting", "version", version, "port", cfg.Port, "participant", cfg.ParticipantID)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Quad store: Postgres when a database is configured, in-memory
	// otherwise.
	var store rdf.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()
		quads, err := storage.NewQuadStore(ctx, db, cfg.DefaultGraph)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		store = quads
		logger.Info("quad store: postgres")
	} else {
		store = rdf.NewMemStore(cfg.DefaultGraph)
		logger.Info("quad store: in-memory")
	}

	// Control plane client and agreement controller.
	cp := controlplane.New(controlplane.Config{
		BaseURL:     cfg.ControlPlaneURL,
		ProviderURL: cfg.ControlPlaneProviderURL,
		AuthHeader:  cfg.ControlPlaneAuthHeader,
		AuthValue:   cfg.ControlPlaneAuthValue,
	}, logger)
	agreements := agreement.New(cp, agreement.Config{
		ParticipantID: cfg.ParticipantID,
		Timeout:       cfg.NegotiationTimeout,
		PollInterval:  cfg.NegotiationPollInterval,
	}, logger)

	// Delegation into the dataspace, guarded by the service patterns.
	delegator := delegation.New(delegation.Config{
		Allow: cfg.ServiceAllow,
		Deny:  cfg.ServiceDeny,
	}, agreements, logger)

	// Query processor; SERVICE targets are guarded by the asset patterns.
	skills := sparql.NewSkillStore()
	processor := sparql.NewProcessor(store, skills, delegator, sparql.FederationConfig{
		Allow:     cfg.AssetAllow,
		Deny:      cfg.AssetDeny,
		BatchSize: cfg.FederationBatchSize,
		Workers:   cfg.WorkerPoolSize,
	}, logger)

	// Catalog synchronization against the configured remote connectors.
	synchronizer := sync.New(cp, store, sync.Config{
		Interval:   cfg.SyncInterval,
		Connectors: cfg.SyncConnectors,
	}, logger)
	synchronizer.Start(ctx)

	srv := server.New(server.ServerConfig{
		Deps: server.HandlersDeps{
			Store:               store,
			Processor:           processor,
			Skills:              skills,
			Publisher:           cp,
			Logger:              logger,
			Version:             version,
			DefaultContract:     cfg.DefaultContract,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		},
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
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

	slog.Info("tsunagu shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	return nil
}
