package usecase

import (
	"context"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/nlquery/internal/domain"
)

// ServeCapabilitiesUseCase answers the discovery and read requests of a
// session: listing, resource reads and prompt rendering.
type ServeCapabilitiesUseCase struct {
	registry CapabilityRegistry
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewServeCapabilitiesUseCase creates a new ServeCapabilitiesUseCase.
func NewServeCapabilitiesUseCase(registry CapabilityRegistry, logger *slog.Logger) *ServeCapabilitiesUseCase {
	return &ServeCapabilitiesUseCase{
		registry: registry,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With("usecase", "ServeCapabilities"),
	}
}

// ListTools returns every registered tool in registration order.
func (uc *ServeCapabilitiesUseCase) ListTools(ctx context.Context) []domain.ToolDef {
	tools := uc.registry.ListTools()
	uc.logger.Info("Listed tools", slog.Int("count", len(tools)))
	return tools
}

func (uc *ServeCapabilitiesUseCase) ListResources(ctx context.Context) []domain.ResourceDef {
	resources := uc.registry.ListResources()
	uc.logger.Info("Listed resources", slog.Int("count", len(resources)))
	return resources
}

func (uc *ServeCapabilitiesUseCase) ListPrompts(ctx context.Context) []domain.PromptTemplateDef {
	prompts := uc.registry.ListPrompts()
	uc.logger.Info("Listed prompts", slog.Int("count", len(prompts)))
	return prompts
}

// Summary returns the capability counts advertised in the handshake.
func (uc *ServeCapabilitiesUseCase) Summary() domain.CapabilitySummary {
	return uc.registry.Summary()
}

// ReadResource returns the content sequence of uri. The span covers the whole
// production, ending when the sequence is exhausted or abandoned.
func (uc *ServeCapabilitiesUseCase) ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error) {
	log := uc.logger.With(slog.String("uri", uri))
	ctx, span := uc.tracer.Start(ctx, "resources/read", trace.WithAttributes(attribute.String("uri", uri)))

	seq, err := uc.registry.ReadResource(ctx, uri)
	if err != nil {
		log.Warn("Resource read rejected", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	log.Info("Reading resource")
	return func(yield func(string, error) bool) {
		defer span.End()
		count := 0
		defer func() { span.SetAttributes(attribute.Int("resource.items", count)) }()
		for item, err := range seq {
			if err != nil {
				log.Error("Resource production failed", slog.Any("error", err))
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				count++
			}
			if !yield(item, err) {
				return
			}
		}
		log.Debug("Resource read complete", slog.Int("items", count))
	}, nil
}

// GetPrompt renders the named prompt template with args.
func (uc *ServeCapabilitiesUseCase) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	log := uc.logger.With(slog.String("prompt", name))
	ctx, span := uc.tracer.Start(ctx, "prompts/get", trace.WithAttributes(attribute.String("prompt", name)))
	defer span.End()

	text, err := uc.registry.GetPrompt(ctx, name, args)
	if err != nil {
		log.Warn("Prompt rendering failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	log.Info("Rendered prompt", slog.Int("length", len(text)))
	return text, nil
}
