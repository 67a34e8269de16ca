package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/i2y/nlquery/internal/domain"
)

const (
	DefaultBaseURL      = "https://api.deepseek.com"
	DefaultModel        = "deepseek-chat"
	DefaultTimeout      = 60 * time.Second
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = 1 * time.Second
	DefaultRetryWaitMax = 10 * time.Second

	DefaultTranslatePrompt = "You are a SQL assistant. Generate a suitable SQL query for the user's question by calling the provided tool."
	DefaultExplainPrompt   = "You explain database query results. Describe the result in plain, simple language."
)

// Config holds configuration for the reasoning client.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// System instructions sent with translation and explanation requests.
	TranslatePrompt string
	ExplainPrompt   string
}

// Client talks to an OpenAI-compatible chat completions endpoint and
// implements usecase.Reasoner.
type Client struct {
	httpClient *retryablehttp.Client
	cfg        Config
	logger     *slog.Logger
}

// NewClient creates and configures a new reasoning client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("reasoner API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = DefaultRetryWaitMax
	}
	if cfg.TranslatePrompt == "" {
		cfg.TranslatePrompt = DefaultTranslatePrompt
	}
	if cfg.ExplainPrompt == "" {
		cfg.ExplainPrompt = DefaultExplainPrompt
	}

	logger = logger.With("component", "reasoner")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.Logger = logger
	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			logger.Warn("Retrying after network error", slog.Any("error", err))
			return true, nil
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			logger.Warn("Retrying after status code", slog.Int("status", resp.StatusCode))
			return true, nil
		}
		return false, nil
	}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{httpClient: retryClient, cfg: cfg, logger: logger}, nil
}

// Translate asks the model to call forceTool for prompt. The returned call
// has the forced tool's name and its decoded arguments.
func (c *Client) Translate(ctx context.Context, prompt string, tools []domain.ToolDef, forceTool string) (domain.ToolCall, error) {
	log := c.logger.With(slog.String("tool", forceTool))

	var forced *domain.ToolDef
	wireTools := make([]chatTool, 0, len(tools))
	for i := range tools {
		wireTools = append(wireTools, toolToChat(tools[i]))
		if tools[i].Name == forceTool {
			forced = &tools[i]
		}
	}
	if forced == nil {
		return domain.ToolCall{}, fmt.Errorf("%w: tool %q is not in the catalog", domain.ErrTranslationFailure, forceTool)
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.TranslatePrompt},
			{Role: "user", Content: prompt},
		},
		Tools:      wireTools,
		ToolChoice: &toolChoice{Type: "function", Function: toolChoiceFunction{Name: forceTool}},
	}

	log.Info("Requesting translation")
	resp, err := c.complete(ctx, req)
	if err != nil {
		return domain.ToolCall{}, err
	}

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		log.Warn("Model did not call a tool")
		return domain.ToolCall{}, fmt.Errorf("%w: model returned no tool call", domain.ErrTranslationFailure)
	}
	fn := resp.Choices[0].Message.ToolCalls[0].Function
	if fn.Name != forceTool {
		return domain.ToolCall{}, fmt.Errorf("%w: model called %q instead of %q", domain.ErrTranslationFailure, fn.Name, forceTool)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(fn.Arguments), &args); err != nil {
		log.Warn("Malformed tool arguments", slog.String("arguments", fn.Arguments))
		return domain.ToolCall{}, fmt.Errorf("%w: malformed arguments: %v", domain.ErrTranslationFailure, err)
	}
	for _, p := range forced.Parameters {
		if v, ok := args[p.Name]; p.Required && (!ok || v == nil) {
			return domain.ToolCall{}, fmt.Errorf("%w: arguments lack required parameter %q", domain.ErrTranslationFailure, p.Name)
		}
	}

	log.Debug("Translation succeeded", slog.Any("arguments", args))
	return domain.ToolCall{Name: fn.Name, Arguments: args}, nil
}

// Explain asks the model to describe result in natural language.
func (c *Client) Explain(ctx context.Context, question, result string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.ExplainPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nExplain this query result in plain language:\n%s", question, result)},
		},
	}

	c.logger.Info("Requesting explanation")
	resp, err := c.complete(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("explanation failed: no choices returned from API")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) complete(ctx context.Context, body chatRequest) (*chatResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("reasoner API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("reasoner API error: status code %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return &chatResp, nil
}
