package mcpjsonrpc

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/nlquery/internal/domain"
)

// Method names carried in the envelope. The standard ones come from mcp-go.
const (
	MethodInitialize    = string(mcp.MethodInitialize)
	MethodPing          = string(mcp.MethodPing)
	MethodToolsList     = string(mcp.MethodToolsList)
	MethodToolsCall     = string(mcp.MethodToolsCall)
	MethodResourcesList = string(mcp.MethodResourcesList)
	MethodResourcesRead = string(mcp.MethodResourcesRead)
	MethodPromptsList   = string(mcp.MethodPromptsList)
	MethodPromptsGet    = string(mcp.MethodPromptsGet)
	NotificationReady   = "notifications/initialized"
	NotificationChunk   = "notifications/resources/chunk"
)

// ProtocolVersion is the session protocol version both sides must agree on.
const ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION

// InitializeParams is sent by the client to open a session.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
	Capabilities    map[string]any     `json:"capabilities"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string                   `json:"protocolVersion"`
	ServerInfo      mcp.Implementation       `json:"serverInfo"`
	Capabilities    domain.CapabilitySummary `json:"capabilities"`
	Instructions    string                   `json:"instructions,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources []mcp.Resource `json:"resources"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts []mcp.Prompt `json:"prompts"`
}

// CallToolParams represents the parameters of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallToolResult is the result of tools/call.
type CallToolResult struct {
	Content []mcp.TextContent `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}

// ReadResourceParams represents the parameters of a resources/read request.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceChunk is pushed once per content item before the terminal
// resources/read response.
type ResourceChunk struct {
	RequestID int64  `json:"requestId"`
	URI       string `json:"uri"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
}

// ReadResourceResult terminates a resource sequence.
type ReadResourceResult struct {
	URI   string `json:"uri"`
	Count int    `json:"count"`
}

// GetPromptParams represents the parameters of a prompts/get request.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

// PromptMessage is one rendered prompt message.
type PromptMessage struct {
	Role    mcp.Role        `json:"role"`
	Content mcp.TextContent `json:"content"`
}

// GetPromptResult is the result of prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Text joins the text of every message with newlines.
func (r GetPromptResult) Text() string {
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		parts = append(parts, m.Content.Text)
	}
	return strings.Join(parts, "\n")
}
