package usecase_test

import (
	"context"
	"iter"
	"log/slog"
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/internal/usecase"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func seqOf(items ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// MockCapabilityRegistry is a mock implementation of usecase.CapabilityRegistry.
type MockCapabilityRegistry struct {
	mock.Mock
}

func (m *MockCapabilityRegistry) RegisterTool(def domain.ToolDef, handler usecase.ToolHandler) error {
	return m.Called(def, handler).Error(0)
}

func (m *MockCapabilityRegistry) RegisterResource(def domain.ResourceDef, producer usecase.ResourceProducer) error {
	return m.Called(def, producer).Error(0)
}

func (m *MockCapabilityRegistry) RegisterPrompt(def domain.PromptTemplateDef, renderer usecase.PromptRenderer) error {
	return m.Called(def, renderer).Error(0)
}

func (m *MockCapabilityRegistry) ListTools() []domain.ToolDef {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.ToolDef)
}

func (m *MockCapabilityRegistry) ListResources() []domain.ResourceDef {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.ResourceDef)
}

func (m *MockCapabilityRegistry) ListPrompts() []domain.PromptTemplateDef {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.PromptTemplateDef)
}

func (m *MockCapabilityRegistry) Summary() domain.CapabilitySummary {
	return m.Called().Get(0).(domain.CapabilitySummary)
}

func (m *MockCapabilityRegistry) InvokeTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	ret := m.Called(ctx, name, args)
	return ret.Get(0).(domain.ToolResult), ret.Error(1)
}

func (m *MockCapabilityRegistry) ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error) {
	ret := m.Called(ctx, uri)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(iter.Seq2[string, error]), ret.Error(1)
}

func (m *MockCapabilityRegistry) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	ret := m.Called(ctx, name, args)
	return ret.String(0), ret.Error(1)
}

// MockQueryStore is a mock implementation of usecase.QueryStore.
type MockQueryStore struct {
	mock.Mock
}

func (m *MockQueryStore) Query(ctx context.Context, sql string) ([]string, error) {
	ret := m.Called(ctx, sql)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).([]string), ret.Error(1)
}

func (m *MockQueryStore) SchemaLines(ctx context.Context) iter.Seq2[string, error] {
	return m.Called(ctx).Get(0).(iter.Seq2[string, error])
}

// MockReasoner is a mock implementation of usecase.Reasoner.
type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Translate(ctx context.Context, prompt string, tools []domain.ToolDef, forceTool string) (domain.ToolCall, error) {
	ret := m.Called(ctx, prompt, tools, forceTool)
	return ret.Get(0).(domain.ToolCall), ret.Error(1)
}

func (m *MockReasoner) Explain(ctx context.Context, question, result string) (string, error) {
	ret := m.Called(ctx, question, result)
	return ret.String(0), ret.Error(1)
}

// MockCapabilityClient is a mock implementation of usecase.CapabilityClient.
type MockCapabilityClient struct {
	mock.Mock
}

func (m *MockCapabilityClient) ListTools(ctx context.Context) ([]domain.ToolDef, error) {
	ret := m.Called(ctx)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).([]domain.ToolDef), ret.Error(1)
}

func (m *MockCapabilityClient) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	ret := m.Called(ctx, name, args)
	return ret.String(0), ret.Error(1)
}

func (m *MockCapabilityClient) CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	ret := m.Called(ctx, name, args)
	return ret.Get(0).(domain.ToolResult), ret.Error(1)
}

func (m *MockCapabilityClient) ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error) {
	ret := m.Called(ctx, uri)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(iter.Seq2[string, error]), ret.Error(1)
}
