package usecase_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/internal/usecase"
)

const countSQL = "SELECT COUNT(*) FROM users"

func catalogClient() *MockCapabilityClient {
	client := new(MockCapabilityClient)
	client.On("ReadResource", mock.Anything, usecase.SchemaURI).Return(seqOf("Table users:", "  - id (INTEGER)"), nil).Once()
	client.On("ListTools", mock.Anything).Return([]domain.ToolDef{usecase.QueryToolDef()}, nil)
	return client
}

func expectQuestion(client *MockCapabilityClient, reasoner *MockReasoner, question string) {
	prompt := usecase.RenderSQLPrompt(question)
	client.On("GetPrompt", mock.Anything, usecase.SQLPromptName, map[string]string{"question": question}).Return(prompt, nil).Once()
	reasoner.On("Translate", mock.Anything, prompt, []domain.ToolDef{usecase.QueryToolDef()}, usecase.QueryToolName).
		Return(domain.ToolCall{Name: usecase.QueryToolName, Arguments: map[string]any{"sql": countSQL}}, nil).Once()
	client.On("CallTool", mock.Anything, usecase.QueryToolName, map[string]any{"sql": countSQL}).
		Return(domain.ToolResult{Content: "(3,)"}, nil).Once()
	reasoner.On("Explain", mock.Anything, question, "(3,)").Return("There are 3 users.", nil).Once()
}

func TestOrchestrator_Run_AnswersUntilQuit(t *testing.T) {
	client := catalogClient()
	reasoner := new(MockReasoner)
	expectQuestion(client, reasoner, "How many users?")

	var out bytes.Buffer
	o := usecase.NewOrchestrator(client, reasoner, strings.NewReader("How many users?\n\nq\nnever asked\n"), &out, newTestLogger())
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, usecase.OrchestratorStopped, o.State())
	assert.Contains(t, out.String(), "SQL: "+countSQL+"\nThere are 3 users.\n")
	assert.Equal(t, 3, strings.Count(out.String(), usecase.QuestionPrompt))
	client.AssertExpectations(t)
	reasoner.AssertExpectations(t)
}

func TestOrchestrator_Run_QuitWords(t *testing.T) {
	for _, input := range []string{"q\n", "Q\n", " quit \n", "EXIT\n", ""} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			client := catalogClient()
			reasoner := new(MockReasoner)
			o := usecase.NewOrchestrator(client, reasoner, strings.NewReader(input), io.Discard, newTestLogger())
			require.NoError(t, o.Run(context.Background()))
			reasoner.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_Run_TranslationFailureIsLocal(t *testing.T) {
	client := catalogClient()
	reasoner := new(MockReasoner)
	bad := "Tell me a joke"
	client.On("GetPrompt", mock.Anything, usecase.SQLPromptName, map[string]string{"question": bad}).Return("prompt", nil).Once()
	reasoner.On("Translate", mock.Anything, "prompt", mock.Anything, usecase.QueryToolName).
		Return(domain.ToolCall{}, fmt.Errorf("%w: model returned no tool call", domain.ErrTranslationFailure)).Once()
	expectQuestion(client, reasoner, "How many users?")

	var out bytes.Buffer
	o := usecase.NewOrchestrator(client, reasoner, strings.NewReader(bad+"\nHow many users?\nexit\n"), &out, newTestLogger())
	require.NoError(t, o.Run(context.Background()))

	assert.Contains(t, out.String(), "Error: translation failure: model returned no tool call")
	assert.Contains(t, out.String(), "There are 3 users.")
	client.AssertNumberOfCalls(t, "CallTool", 1)
}

func TestOrchestrator_Run_ToolErrorContentIsExplained(t *testing.T) {
	client := catalogClient()
	reasoner := new(MockReasoner)
	question := "Show me the userz"
	client.On("GetPrompt", mock.Anything, usecase.SQLPromptName, mock.Anything).Return("prompt", nil).Once()
	reasoner.On("Translate", mock.Anything, "prompt", mock.Anything, usecase.QueryToolName).
		Return(domain.ToolCall{Name: usecase.QueryToolName, Arguments: map[string]any{"sql": "SELECT * FROM userz"}}, nil).Once()
	client.On("CallTool", mock.Anything, usecase.QueryToolName, mock.Anything).
		Return(domain.ToolResult{Content: "Error: no such table: userz", IsError: true}, nil).Once()
	reasoner.On("Explain", mock.Anything, question, "Error: no such table: userz").Return("That table does not exist.", nil).Once()

	var out bytes.Buffer
	o := usecase.NewOrchestrator(client, reasoner, strings.NewReader(question+"\n"), &out, newTestLogger())
	require.NoError(t, o.Run(context.Background()))
	assert.Contains(t, out.String(), "That table does not exist.")
	reasoner.AssertExpectations(t)
}

func TestOrchestrator_Run_SessionDeathStops(t *testing.T) {
	client := catalogClient()
	reasoner := new(MockReasoner)
	client.On("GetPrompt", mock.Anything, usecase.SQLPromptName, mock.Anything).Return("prompt", nil).Once()
	reasoner.On("Translate", mock.Anything, "prompt", mock.Anything, usecase.QueryToolName).
		Return(domain.ToolCall{Name: usecase.QueryToolName, Arguments: map[string]any{"sql": countSQL}}, nil).Once()
	client.On("CallTool", mock.Anything, usecase.QueryToolName, mock.Anything).
		Return(domain.ToolResult{}, fmt.Errorf("%w: %w", domain.ErrCancelled, domain.ErrTransport)).Once()

	o := usecase.NewOrchestrator(client, reasoner, strings.NewReader("How many users?\nHow many orders?\n"), io.Discard, newTestLogger())
	err := o.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, usecase.OrchestratorStopped, o.State())
	client.AssertNumberOfCalls(t, "GetPrompt", 1)
}

func TestOrchestrator_Run_ContextCancelled(t *testing.T) {
	client := catalogClient()
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	o := usecase.NewOrchestrator(client, new(MockReasoner), pr, io.Discard, newTestLogger())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.State() == usecase.OrchestratorAwaitingQuestion }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestOrchestrator_Run_SchemaUnavailableIsNotFatal(t *testing.T) {
	client := new(MockCapabilityClient)
	client.On("ReadResource", mock.Anything, usecase.SchemaURI).Return(nil, domain.ErrUnknownResource).Once()

	o := usecase.NewOrchestrator(client, new(MockReasoner), strings.NewReader("q\n"), io.Discard, newTestLogger())
	assert.NoError(t, o.Run(context.Background()))
}

func TestIsSessionFatal(t *testing.T) {
	assert.True(t, usecase.IsSessionFatal(fmt.Errorf("x: %w", domain.ErrTransport)))
	assert.True(t, usecase.IsSessionFatal(domain.ErrCancelled))
	assert.False(t, usecase.IsSessionFatal(domain.ErrTranslationFailure))
	assert.False(t, usecase.IsSessionFatal(domain.ErrUnknownTool))
}
