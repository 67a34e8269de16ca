package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/i2y/nlquery/configs"
	"github.com/i2y/nlquery/internal/adapter/inbound/mcphttp"
	"github.com/i2y/nlquery/internal/adapter/outbound/memrepo"
	"github.com/i2y/nlquery/internal/adapter/outbound/openapi"
	"github.com/i2y/nlquery/internal/adapter/outbound/sqlitestore"
	"github.com/i2y/nlquery/internal/telemetry"
	"github.com/i2y/nlquery/internal/usecase"
)

const serverVersion = "0.1.0"

func main() {
	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Command Line Flags (override config) ===
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "Listen address")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.BoolVar(&cfg.Seed, "seed", cfg.Seed, "Create and seed the sample tables on startup")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := telemetry.InitProvider(ctx, telemetry.Config{
		ServiceName:    "nlquery-server",
		ServiceVersion: serverVersion,
		Endpoint:       cfg.OtelExporterOtlpEndpoint,
		Insecure:       cfg.OtelExporterOtlpInsecure,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry.", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error.", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configs.Config, logger *slog.Logger) error {
	// === Data Store ===
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.DatabasePath}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Seed {
		if err := store.Seed(ctx); err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
		logger.Info("Sample data ready.", slog.String("path", cfg.DatabasePath))
	}

	// === Capability Registry ===
	registry := memrepo.NewCapabilityRegistry(openapi.NewArgumentValidator(logger), logger)
	if err := usecase.NewDatabaseCatalog(store, logger).Execute(registry); err != nil {
		return fmt.Errorf("failed to register capabilities: %w", err)
	}
	summary := registry.Summary()
	logger.Info("Capabilities registered.",
		slog.Int("tools", summary.Tools),
		slog.Int("resources", summary.Resources),
		slog.Int("prompts", summary.Prompts))

	// === Use Cases & HTTP Handlers ===
	handlers := mcphttp.NewHandlers(
		usecase.NewServeCapabilitiesUseCase(registry, logger),
		usecase.NewInvokeToolUseCase(registry, logger),
		mcphttp.Config{
			SSEPath:           cfg.SSEPath,
			MessagePath:       cfg.MessagePath,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ServerName:        "nlquery",
			ServerVersion:     serverVersion,
			Instructions:      cfg.Instructions,
		},
		logger,
	)
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)

	// SSE responses stay open, so there is no write timeout.
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting.", slog.String("address", cfg.ListenAddr), slog.String("sse_path", cfg.SSEPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// === Server Shutdown ===
	logger.Info("Shutting down server...", slog.Int("sessions", handlers.SessionCount()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	handlers.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed.", slog.Any("error", err))
	}
	logger.Info("Server shut down gracefully.")
	return nil
}
