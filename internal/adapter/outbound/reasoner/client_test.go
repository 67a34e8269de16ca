package reasoner_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/nlquery/internal/adapter/outbound/reasoner"
	"github.com/i2y/nlquery/internal/domain"
)

var queryTool = domain.ToolDef{
	Name:        "query_db",
	Description: "Execute a SQL query",
	Parameters:  []domain.ToolParameter{{Name: "sql", Type: domain.ParamTypeString, Required: true, Description: "SQL statement"}},
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *reasoner.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, err := reasoner.NewClient(reasoner.Config{
		BaseURL:      srv.URL + "/",
		APIKey:       "test-key",
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	return c
}

func toolCallResponse(name, arguments string) map[string]any {
	return map[string]any{
		"id": "cmpl-1",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []any{map[string]any{
					"id":       "call_0",
					"type":     "function",
					"function": map[string]any{"name": name, "arguments": arguments},
				}},
			},
		}},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := reasoner.NewClient(reasoner.Config{}, slog.Default())
	assert.Error(t, err)
}

func TestClient_Translate_ForcesTool(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		writeJSON(w, toolCallResponse("query_db", `{"sql":"SELECT COUNT(*) FROM users"}`))
	})

	call, err := c.Translate(context.Background(), "How many users?", []domain.ToolDef{queryTool}, "query_db")
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCall{Name: "query_db", Arguments: map[string]any{"sql": "SELECT COUNT(*) FROM users"}}, call)

	assert.Equal(t, "deepseek-chat", got["model"])
	assert.Equal(t, map[string]any{"type": "function", "function": map[string]any{"name": "query_db"}}, got["tool_choice"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "query_db", fn["name"])
	assert.Equal(t, []any{"sql"}, fn["parameters"].(map[string]any)["required"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "How many users?", msgs[1].(map[string]any)["content"])
}

func TestClient_Translate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
	}{
		{
			name: "No tool call",
			response: map[string]any{"choices": []any{map[string]any{
				"message": map[string]any{"role": "assistant", "content": "SELECT 1"},
			}}},
		},
		{name: "No choices", response: map[string]any{"choices": []any{}}},
		{name: "Wrong tool", response: toolCallResponse("drop_db", `{"sql":"x"}`)},
		{name: "Malformed arguments", response: toolCallResponse("query_db", `{"sql":`)},
		{name: "Missing required argument", response: toolCallResponse("query_db", `{"query":"SELECT 1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.response)
			})
			_, err := c.Translate(context.Background(), "q", []domain.ToolDef{queryTool}, "query_db")
			assert.ErrorIs(t, err, domain.ErrTranslationFailure)
		})
	}
}

func TestClient_Translate_ToolNotInCatalog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Translate(context.Background(), "q", nil, "query_db")
	assert.ErrorIs(t, err, domain.ErrTranslationFailure)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"choices": []any{map[string]any{
			"message": map[string]any{"role": "assistant", "content": "There are 3 users."},
		}}})
	})

	answer, err := c.Explain(context.Background(), "How many users?", "(3,)")
	require.NoError(t, err)
	assert.Equal(t, "There are 3 users.", answer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]any{"error": map[string]any{"message": "bad model", "type": "invalid_request_error"}})
	})

	_, err := c.Explain(context.Background(), "q", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Explain_SendsQuestionAndResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Tools []any `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Tools)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "Who is oldest?")
		assert.Contains(t, req.Messages[1].Content, "('Wang Wu', 35)")
		writeJSON(w, map[string]any{"choices": []any{map[string]any{
			"message": map[string]any{"role": "assistant", "content": "Wang Wu, aged 35."},
		}}})
	})

	answer, err := c.Explain(context.Background(), "Who is oldest?", "('Wang Wu', 35)")
	require.NoError(t, err)
	assert.Equal(t, "Wang Wu, aged 35.", answer)
}
