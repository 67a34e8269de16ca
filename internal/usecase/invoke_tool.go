package usecase

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/nlquery/internal/domain"
)

const instrumentationName = "github.com/i2y/nlquery/internal/usecase"

// Outcome labels recorded on the invocation counter.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeToolError = "tool_error"
	OutcomeFailed    = "failed"
)

// InvokeToolUseCase handles a tools/call request against the registry.
type InvokeToolUseCase struct {
	registry    CapabilityRegistry
	tracer      trace.Tracer
	invocations metric.Int64Counter
	logger      *slog.Logger
}

// NewInvokeToolUseCase creates a new InvokeToolUseCase. Spans and metrics go
// to the global otel providers, which are no-ops unless telemetry is set up.
func NewInvokeToolUseCase(registry CapabilityRegistry, logger *slog.Logger) *InvokeToolUseCase {
	logger = logger.With("usecase", "InvokeTool")
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"nlquery.tool.invocations",
		metric.WithDescription("Number of tool invocations by outcome"),
	)
	if err != nil {
		logger.Warn("Failed to create invocation counter", slog.Any("error", err))
	}
	return &InvokeToolUseCase{
		registry:    registry,
		tracer:      otel.Tracer(instrumentationName),
		invocations: counter,
		logger:      logger,
	}
}

// Execute invokes the named tool. A fault raised by the tool itself is not
// returned as an error: it becomes a result whose content is
// "Error: <message>" with IsError set. Unknown tools and invalid arguments
// are returned as errors.
func (uc *InvokeToolUseCase) Execute(ctx context.Context, toolName string, args map[string]any) (domain.ToolResult, error) {
	log := uc.logger.With(slog.String("tool_name", toolName))
	ctx, span := uc.tracer.Start(ctx, "tools/call", trace.WithAttributes(attribute.String("tool", toolName)))
	defer span.End()

	log.Info("Executing tool invocation")
	result, err := uc.registry.InvokeTool(ctx, toolName, args)

	var execErr *domain.ToolExecutionError
	switch {
	case errors.As(err, &execErr):
		log.Warn("Tool reported an error", slog.String("error", execErr.Message()))
		span.SetAttributes(attribute.Bool("tool.is_error", true))
		uc.record(ctx, toolName, OutcomeToolError)
		return domain.ToolResult{Content: "Error: " + execErr.Message(), IsError: true}, nil
	case err != nil:
		log.Warn("Tool invocation rejected", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		uc.record(ctx, toolName, OutcomeFailed)
		return domain.ToolResult{}, err
	}

	outcome := OutcomeSucceeded
	if result.IsError {
		outcome = OutcomeToolError
	}
	uc.record(ctx, toolName, outcome)
	log.Info("Tool invocation successful")
	log.Debug("Invocation result", slog.Int("content_length", len(result.Content)))
	return result, nil
}

func (uc *InvokeToolUseCase) record(ctx context.Context, tool, outcome string) {
	if uc.invocations == nil {
		return
	}
	uc.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}
