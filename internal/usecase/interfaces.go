package usecase

import (
	"context"
	"iter"

	"github.com/i2y/nlquery/internal/domain"
)

// --- Capability handlers ---

// ToolHandler executes one tool invocation with validated arguments.
// A returned error is wrapped into a domain.ToolExecutionError by the registry.
type ToolHandler func(ctx context.Context, args map[string]any) (domain.ToolResult, error)

// ResourceProducer lazily produces the content items of a resource.
// Production must not mutate the data store.
type ResourceProducer func(ctx context.Context) iter.Seq2[string, error]

// PromptRenderer renders a prompt template. It must be a pure function of args.
type PromptRenderer func(args map[string]string) (string, error)

// --- Server side ports ---

// ArgumentValidator checks tool arguments against declared parameters and
// returns them with defaults applied.
type ArgumentValidator interface {
	Validate(tool domain.ToolDef, args map[string]any) (map[string]any, error)
}

// CapabilityRegistry is the server-side catalog of tools, resources and
// prompt templates.
type CapabilityRegistry interface {
	// RegisterTool adds a tool. Fails with domain.ErrDuplicateCapability if
	// the key exists, leaving the registry unchanged.
	RegisterTool(def domain.ToolDef, handler ToolHandler) error
	RegisterResource(def domain.ResourceDef, producer ResourceProducer) error
	RegisterPrompt(def domain.PromptTemplateDef, renderer PromptRenderer) error

	// List* return snapshots in registration order.
	ListTools() []domain.ToolDef
	ListResources() []domain.ResourceDef
	ListPrompts() []domain.PromptTemplateDef
	Summary() domain.CapabilitySummary

	InvokeTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error)
	ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (string, error)
}

// QueryStore is the single "execute query" capability of the data store.
type QueryStore interface {
	// Query executes sql and returns one stringified line per row.
	Query(ctx context.Context, sql string) ([]string, error)
	// SchemaLines lazily describes the live catalog, one line per table
	// header and per column.
	SchemaLines(ctx context.Context) iter.Seq2[string, error]
}

// --- Client side ports ---

// Reasoner is the external natural-language collaborator.
type Reasoner interface {
	// Translate asks for exactly one call to forceTool. Declining to call a
	// tool or returning malformed arguments fails with
	// domain.ErrTranslationFailure.
	Translate(ctx context.Context, prompt string, tools []domain.ToolDef, forceTool string) (domain.ToolCall, error)
	// Explain turns a raw tool result into a natural-language answer.
	Explain(ctx context.Context, question, result string) (string, error)
}

// CapabilityClient is the orchestrator's view of an open session.
type CapabilityClient interface {
	ListTools(ctx context.Context) ([]domain.ToolDef, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error)
	ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error)
}
