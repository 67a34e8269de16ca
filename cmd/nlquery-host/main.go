package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/i2y/nlquery/configs"
	"github.com/i2y/nlquery/internal/adapter/outbound/mcpclient"
	"github.com/i2y/nlquery/internal/adapter/outbound/reasoner"
	"github.com/i2y/nlquery/internal/telemetry"
	"github.com/i2y/nlquery/internal/usecase"
)

const hostVersion = "0.1.0"

func main() {
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "SSE endpoint of the nlquery server")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stdout carries the conversation; logs go to stderr.
	logLevel := cfg.ParsedLogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	shutdownOtel, err := telemetry.InitProvider(ctx, telemetry.Config{
		ServiceName:    "nlquery-host",
		ServiceVersion: hostVersion,
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
		logger.Error("Host stopped with error.", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configs.Config, logger *slog.Logger) error {
	llm, err := reasoner.NewClient(reasoner.Config{
		BaseURL:         cfg.ReasonerBaseURL,
		APIKey:          cfg.ReasonerAPIKey,
		Model:           cfg.ReasonerModel,
		Timeout:         cfg.ReasonerTimeout,
		RetryMax:        cfg.ReasonerRetryMax,
		TranslatePrompt: cfg.ReasonerTranslatePrompt,
		ExplainPrompt:   cfg.ReasonerExplainPrompt,
	}, logger)
	if err != nil {
		return fmt.Errorf("%w (set NLQUERY_REASONER_API_KEY or %s)", err, configs.FallbackAPIKeyEnv)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 30*time.Second)
	session, err := mcpclient.Open(dialCtx, cfg.ServerURL, mcpclient.Config{
		ClientName:    "nlquery-host",
		ClientVersion: hostVersion,
		IdleTimeout:   cfg.IdleTimeout,
		Dial:          mcpclient.DialConfig{RetryMax: 3},
	}, logger)
	cancelDial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.ServerURL, err)
	}
	defer session.Close()

	if instructions := session.Instructions(); instructions != "" {
		fmt.Fprintln(os.Stdout, instructions)
	}

	// A session that dies while we wait for input ends the loop right away.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-session.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	orchestrator := usecase.NewOrchestrator(session, llm, os.Stdin, os.Stdout, logger)
	if err := orchestrator.Run(runCtx); err != nil {
		return err
	}
	if err := session.Err(); err != nil {
		return fmt.Errorf("session lost: %w", err)
	}
	logger.Info("Goodbye.")
	return nil
}
