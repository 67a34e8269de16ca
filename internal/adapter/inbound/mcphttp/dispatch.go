package mcphttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/pkg/shared/mcpjsonrpc"
)

// dispatch handles one decoded message on its own goroutine. Replies and
// resource chunks are queued on the session.
func (h *Handlers) dispatch(sess *serverSession, msg *mcpjsonrpc.Message) {
	log := h.logger.With(slog.String("session_id", sess.id), slog.String("method", msg.Method))

	switch {
	case msg.IsResponse():
		log.Debug("Ignoring response from client", slog.String("id", string(msg.ID)))
		return
	case msg.IsNotification():
		h.handleNotification(sess, msg, log)
		return
	case !msg.IsRequest():
		_ = sess.send(mcpjsonrpc.NewErrorResponse(msg.ID, mcpjsonrpc.CodeInvalidRequest, "message is neither request nor notification", nil))
		return
	}

	if msg.Method != mcpjsonrpc.MethodInitialize && msg.Method != mcpjsonrpc.MethodPing && !sess.initialized.Load() {
		log.Warn("Request before initialize")
		h.reply(sess, msg, nil, fmt.Errorf("%w: send %s first", domain.ErrNotInitialized, mcpjsonrpc.MethodInitialize))
		return
	}

	ctx := sess.ctx
	log.Debug("Handling request", slog.String("id", string(msg.ID)))

	if msg.Method == mcpjsonrpc.MethodResourcesRead {
		h.streamResource(ctx, sess, msg, log)
		return
	}

	result, err := h.handleRequest(ctx, sess, msg)
	h.reply(sess, msg, result, err)
}

func (h *Handlers) handleNotification(sess *serverSession, msg *mcpjsonrpc.Message, log *slog.Logger) {
	switch msg.Method {
	case mcpjsonrpc.NotificationReady:
		if !sess.initialized.Load() {
			log.Warn("Ready notification before initialize")
			return
		}
		if !sess.ready.CompareAndSwap(false, true) {
			log.Debug("Duplicate ready notification")
			return
		}
		log.Info("Client ready", slog.String("client", sess.client().Name))
	default:
		log.Debug("Ignoring notification")
	}
}

func (h *Handlers) handleRequest(ctx context.Context, sess *serverSession, msg *mcpjsonrpc.Message) (any, error) {
	switch msg.Method {
	case mcpjsonrpc.MethodInitialize:
		return h.initialize(sess, msg)

	case mcpjsonrpc.MethodPing:
		return struct{}{}, nil

	case mcpjsonrpc.MethodToolsList:
		tools := h.serve.ListTools(ctx)
		out := mcpjsonrpc.ListToolsResult{Tools: make([]mcp.Tool, 0, len(tools))}
		for _, t := range tools {
			out.Tools = append(out.Tools, mcpjsonrpc.ToolToWire(t))
		}
		return out, nil

	case mcpjsonrpc.MethodResourcesList:
		resources := h.serve.ListResources(ctx)
		out := mcpjsonrpc.ListResourcesResult{Resources: make([]mcp.Resource, 0, len(resources))}
		for _, r := range resources {
			out.Resources = append(out.Resources, mcpjsonrpc.ResourceToWire(r))
		}
		return out, nil

	case mcpjsonrpc.MethodPromptsList:
		prompts := h.serve.ListPrompts(ctx)
		out := mcpjsonrpc.ListPromptsResult{Prompts: make([]mcp.Prompt, 0, len(prompts))}
		for _, p := range prompts {
			out.Prompts = append(out.Prompts, mcpjsonrpc.PromptToWire(p))
		}
		return out, nil

	case mcpjsonrpc.MethodToolsCall:
		var params mcpjsonrpc.CallToolParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, invalidParams("missing tool name")
		}
		res, err := h.invoke.Execute(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, err
		}
		return mcpjsonrpc.CallToolResult{
			Content: []mcp.TextContent{mcp.NewTextContent(res.Content)},
			IsError: res.IsError,
		}, nil

	case mcpjsonrpc.MethodPromptsGet:
		var params mcpjsonrpc.GetPromptParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, invalidParams("missing prompt name")
		}
		text, err := h.serve.GetPrompt(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, err
		}
		out := mcpjsonrpc.GetPromptResult{
			Messages: []mcpjsonrpc.PromptMessage{{Role: mcp.RoleUser, Content: mcp.NewTextContent(text)}},
		}
		for _, p := range h.serve.ListPrompts(ctx) {
			if p.Name == params.Name {
				out.Description = p.Description
				break
			}
		}
		return out, nil
	}

	return nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", msg.Method)}
}

func (h *Handlers) initialize(sess *serverSession, msg *mcpjsonrpc.Message) (any, error) {
	var params mcpjsonrpc.InitializeParams
	if err := decodeParams(msg.Params, &params); err != nil {
		return nil, err
	}
	if params.ProtocolVersion != mcpjsonrpc.ProtocolVersion {
		h.logger.Warn("Protocol version mismatch",
			slog.String("session_id", sess.id),
			slog.String("client_version", params.ProtocolVersion))
		return nil, fmt.Errorf("%w: client requested %q, server speaks %q",
			domain.ErrProtocolMismatch, params.ProtocolVersion, mcpjsonrpc.ProtocolVersion)
	}

	// Requests are dispatched concurrently, so only one initialize may win.
	if !sess.initialized.CompareAndSwap(false, true) {
		return nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInvalidRequest, Message: "session already initialized"}
	}
	sess.setClientInfo(params.ClientInfo)
	h.logger.Info("Session initialized",
		slog.String("session_id", sess.id),
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version))

	return mcpjsonrpc.InitializeResult{
		ProtocolVersion: mcpjsonrpc.ProtocolVersion,
		ServerInfo:      mcp.Implementation{Name: h.cfg.ServerName, Version: h.cfg.ServerVersion},
		Capabilities:    h.serve.Summary(),
		Instructions:    h.cfg.Instructions,
	}, nil
}

// streamResource pushes one chunk notification per content item, then the
// terminal response carrying the item count.
func (h *Handlers) streamResource(ctx context.Context, sess *serverSession, msg *mcpjsonrpc.Message, log *slog.Logger) {
	var params mcpjsonrpc.ReadResourceParams
	if err := decodeParams(msg.Params, &params); err != nil {
		h.reply(sess, msg, nil, err)
		return
	}
	requestID, ok := msg.Int64ID()
	if !ok {
		h.reply(sess, msg, nil, &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInvalidRequest, Message: "resources/read requires a numeric id"})
		return
	}

	seq, err := h.serve.ReadResource(ctx, params.URI)
	if err != nil {
		h.reply(sess, msg, nil, err)
		return
	}

	index := 0
	for text, err := range seq {
		if err != nil {
			h.reply(sess, msg, nil, fmt.Errorf("resource %s: %w", params.URI, err))
			return
		}
		chunk, err := mcpjsonrpc.NewNotification(mcpjsonrpc.NotificationChunk, mcpjsonrpc.ResourceChunk{
			RequestID: requestID,
			URI:       params.URI,
			Index:     index,
			Text:      text,
		})
		if err != nil {
			h.reply(sess, msg, nil, err)
			return
		}
		if err := sess.send(chunk); err != nil {
			log.Warn("Session closed during resource read", slog.String("uri", params.URI))
			return
		}
		index++
	}
	h.reply(sess, msg, mcpjsonrpc.ReadResourceResult{URI: params.URI, Count: index}, nil)
}

// reply queues the terminal response for msg.
func (h *Handlers) reply(sess *serverSession, msg *mcpjsonrpc.Message, result any, err error) {
	var resp *mcpjsonrpc.Response
	if err != nil {
		var wireErr *mcpjsonrpc.Error
		if !errors.As(err, &wireErr) {
			wireErr = mcpjsonrpc.ErrorFor(err)
		}
		resp = mcpjsonrpc.NewErrorResponse(msg.ID, wireErr.Code, wireErr.Message, wireErr.Data)
	} else {
		var mErr error
		resp, mErr = mcpjsonrpc.NewResponse(msg.ID, result)
		if mErr != nil {
			resp = mcpjsonrpc.NewErrorResponse(msg.ID, mcpjsonrpc.CodeInternalError, mErr.Error(), nil)
		}
	}
	if sendErr := sess.send(resp); sendErr != nil {
		h.logger.Debug("Dropped reply for closed session", slog.String("session_id", sess.id), slog.String("method", msg.Method))
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func invalidParams(reason string) *mcpjsonrpc.Error {
	return &mcpjsonrpc.Error{Code: mcpjsonrpc.CodeInvalidParams, Message: "invalid params: " + reason}
}
