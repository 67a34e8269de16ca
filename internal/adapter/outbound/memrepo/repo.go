package memrepo

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/internal/usecase"
)

type toolEntry struct {
	def     domain.ToolDef
	handler usecase.ToolHandler
}

type resourceEntry struct {
	def      domain.ResourceDef
	producer usecase.ResourceProducer
}

type promptEntry struct {
	def      domain.PromptTemplateDef
	renderer usecase.PromptRenderer
}

// CapabilityRegistry provides an in-memory implementation of
// usecase.CapabilityRegistry. Keys are kept in registration order.
// NOTE: This implementation is not persistent; capabilities are registered at startup.
type CapabilityRegistry struct {
	mu        sync.RWMutex
	tools     map[string]toolEntry // Map tool key to definition + handler
	toolOrder []string
	resources map[string]resourceEntry // Map resource URI to definition + producer
	resOrder  []string
	prompts   map[string]promptEntry // Map prompt name to definition + renderer
	promOrder []string
	validator usecase.ArgumentValidator
	logger    *slog.Logger
}

// NewCapabilityRegistry creates a new, empty registry.
func NewCapabilityRegistry(validator usecase.ArgumentValidator, logger *slog.Logger) *CapabilityRegistry {
	return &CapabilityRegistry{
		tools:     make(map[string]toolEntry),
		resources: make(map[string]resourceEntry),
		prompts:   make(map[string]promptEntry),
		validator: validator,
		logger:    logger.With("component", "capability_registry"),
	}
}

// RegisterTool adds a tool and its handler.
func (r *CapabilityRegistry) RegisterTool(def domain.ToolDef, handler usecase.ToolHandler) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: tool %q has no handler", domain.ErrInvalidDefinition, def.Name)
	}
	if def.Identifier == "" {
		def.Identifier = def.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := def.Key()
	if _, exists := r.tools[key]; exists {
		r.logger.Warn("Rejected duplicate tool", slog.String("tool", key))
		return fmt.Errorf("%w: tool %q", domain.ErrDuplicateCapability, key)
	}
	r.tools[key] = toolEntry{def: cloneTool(def), handler: handler}
	r.toolOrder = append(r.toolOrder, key)
	r.logger.Debug("Registered tool", slog.String("tool", key), slog.Int("params", len(def.Parameters)))
	return nil
}

// RegisterResource adds a resource and its producer.
func (r *CapabilityRegistry) RegisterResource(def domain.ResourceDef, producer usecase.ResourceProducer) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if producer == nil {
		return fmt.Errorf("%w: resource %q has no producer", domain.ErrInvalidDefinition, def.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[def.URI]; exists {
		r.logger.Warn("Rejected duplicate resource", slog.String("uri", def.URI))
		return fmt.Errorf("%w: resource %q", domain.ErrDuplicateCapability, def.URI)
	}
	r.resources[def.URI] = resourceEntry{def: def, producer: producer}
	r.resOrder = append(r.resOrder, def.URI)
	r.logger.Debug("Registered resource", slog.String("uri", def.URI))
	return nil
}

// RegisterPrompt adds a prompt template and its renderer.
func (r *CapabilityRegistry) RegisterPrompt(def domain.PromptTemplateDef, renderer usecase.PromptRenderer) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if renderer == nil {
		return fmt.Errorf("%w: prompt %q has no renderer", domain.ErrInvalidDefinition, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.prompts[def.Name]; exists {
		r.logger.Warn("Rejected duplicate prompt", slog.String("prompt", def.Name))
		return fmt.Errorf("%w: prompt %q", domain.ErrDuplicateCapability, def.Name)
	}
	def.Parameters = append([]domain.PromptParameter(nil), def.Parameters...)
	r.prompts[def.Name] = promptEntry{def: def, renderer: renderer}
	r.promOrder = append(r.promOrder, def.Name)
	r.logger.Debug("Registered prompt", slog.String("prompt", def.Name))
	return nil
}

// ListTools returns a snapshot of all tools in registration order.
func (r *CapabilityRegistry) ListTools() []domain.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.ToolDef, 0, len(r.toolOrder))
	for _, key := range r.toolOrder {
		list = append(list, cloneTool(r.tools[key].def))
	}
	return list
}

// ListResources returns a snapshot of all resources in registration order.
func (r *CapabilityRegistry) ListResources() []domain.ResourceDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.ResourceDef, 0, len(r.resOrder))
	for _, uri := range r.resOrder {
		list = append(list, r.resources[uri].def)
	}
	return list
}

// ListPrompts returns a snapshot of all prompt templates in registration order.
func (r *CapabilityRegistry) ListPrompts() []domain.PromptTemplateDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.PromptTemplateDef, 0, len(r.promOrder))
	for _, name := range r.promOrder {
		def := r.prompts[name].def
		def.Parameters = append([]domain.PromptParameter(nil), def.Parameters...)
		list = append(list, def)
	}
	return list
}

// Summary returns the number of registered capabilities of each kind.
func (r *CapabilityRegistry) Summary() domain.CapabilitySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.CapabilitySummary{
		Tools:     len(r.toolOrder),
		Resources: len(r.resOrder),
		Prompts:   len(r.promOrder),
	}
}

// InvokeTool validates args and runs the tool's handler. Validation failures
// return before the handler runs; handler faults are wrapped in
// *domain.ToolExecutionError.
func (r *CapabilityRegistry) InvokeTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("Tool not found", slog.String("tool", name))
		return domain.ToolResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownTool, name)
	}

	validated, err := r.validator.Validate(entry.def, args)
	if err != nil {
		return domain.ToolResult{}, err
	}

	result, err := entry.handler(ctx, validated)
	if err != nil {
		r.logger.Error("Tool handler failed", slog.String("tool", name), slog.Any("error", err))
		return domain.ToolResult{}, &domain.ToolExecutionError{Tool: name, Err: err}
	}
	return result, nil
}

// ReadResource returns the lazy content sequence of the resource at uri.
func (r *CapabilityRegistry) ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error) {
	r.mu.RLock()
	entry, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("Resource not found", slog.String("uri", uri))
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownResource, uri)
	}
	return entry.producer(ctx), nil
}

// GetPrompt renders the named prompt template.
func (r *CapabilityRegistry) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	r.mu.RLock()
	entry, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("Prompt not found", slog.String("prompt", name))
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownPrompt, name)
	}
	if err := entry.def.CheckArguments(args); err != nil {
		return "", err
	}
	return entry.renderer(args)
}

func cloneTool(def domain.ToolDef) domain.ToolDef {
	def.Parameters = append([]domain.ToolParameter(nil), def.Parameters...)
	if def.Metadata != nil {
		md := make(map[string]any, len(def.Metadata))
		for k, v := range def.Metadata {
			md[k] = v
		}
		def.Metadata = md
	}
	return def
}
