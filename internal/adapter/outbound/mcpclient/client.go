package mcpclient

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/pkg/shared/mcpjsonrpc"
)

// ListTools returns the server's tool catalog. Each definition records the
// session endpoint it came from in Metadata["endpoint"].
func (s *Session) ListTools(ctx context.Context) (tools []domain.ToolDef, err error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodToolsList)
	defer func() { endSpan(span, err) }()

	if err := s.active(); err != nil {
		return nil, err
	}
	var res mcpjsonrpc.ListToolsResult
	if err := s.call(ctx, mcpjsonrpc.MethodToolsList, nil, &res); err != nil {
		return nil, err
	}
	tools = make([]domain.ToolDef, 0, len(res.Tools))
	for _, t := range res.Tools {
		def := mcpjsonrpc.ToolFromWire(t)
		if def.Metadata == nil {
			def.Metadata = make(map[string]any)
		}
		def.Metadata["endpoint"] = s.stream.Endpoint()
		tools = append(tools, def)
	}
	return tools, nil
}

// ListResources returns the server's resource catalog.
func (s *Session) ListResources(ctx context.Context) (resources []domain.ResourceDef, err error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodResourcesList)
	defer func() { endSpan(span, err) }()

	if err := s.active(); err != nil {
		return nil, err
	}
	var res mcpjsonrpc.ListResourcesResult
	if err := s.call(ctx, mcpjsonrpc.MethodResourcesList, nil, &res); err != nil {
		return nil, err
	}
	resources = make([]domain.ResourceDef, 0, len(res.Resources))
	for _, r := range res.Resources {
		resources = append(resources, mcpjsonrpc.ResourceFromWire(r))
	}
	return resources, nil
}

// ListPrompts returns the server's prompt templates.
func (s *Session) ListPrompts(ctx context.Context) (prompts []domain.PromptTemplateDef, err error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodPromptsList)
	defer func() { endSpan(span, err) }()

	if err := s.active(); err != nil {
		return nil, err
	}
	var res mcpjsonrpc.ListPromptsResult
	if err := s.call(ctx, mcpjsonrpc.MethodPromptsList, nil, &res); err != nil {
		return nil, err
	}
	prompts = make([]domain.PromptTemplateDef, 0, len(res.Prompts))
	for _, p := range res.Prompts {
		prompts = append(prompts, mcpjsonrpc.PromptFromWire(p))
	}
	return prompts, nil
}

// CallTool invokes a tool. A fault inside the tool is not an error: it comes
// back as a result with IsError set.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (result domain.ToolResult, err error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodToolsCall, attribute.String("mcp.tool", name))
	defer func() { endSpan(span, err) }()

	if err := s.active(); err != nil {
		return domain.ToolResult{}, err
	}
	var res mcpjsonrpc.CallToolResult
	if err := s.call(ctx, mcpjsonrpc.MethodToolsCall, mcpjsonrpc.CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return domain.ToolResult{}, err
	}
	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		texts = append(texts, c.Text)
	}
	span.SetAttributes(attribute.Bool("mcp.tool.is_error", res.IsError))
	return domain.ToolResult{Content: strings.Join(texts, "\n"), IsError: res.IsError}, nil
}

// GetPrompt renders a prompt template on the server.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (text string, err error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodPromptsGet, attribute.String("mcp.prompt", name))
	defer func() { endSpan(span, err) }()

	if err := s.active(); err != nil {
		return "", err
	}
	var res mcpjsonrpc.GetPromptResult
	if err := s.call(ctx, mcpjsonrpc.MethodPromptsGet, mcpjsonrpc.GetPromptParams{Name: name, Arguments: args}, &res); err != nil {
		return "", err
	}
	return res.Text(), nil
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodPing)
	defer func() { endSpan(span, err) }()

	if err := s.active(); err != nil {
		return err
	}
	return s.call(ctx, mcpjsonrpc.MethodPing, nil, nil)
}

// ReadResource starts reading uri. It returns once the first item has
// arrived or the read has failed, so unknown resources are reported here.
// The returned sequence yields items in delivery order and can be consumed
// once; ctx bounds the whole read. Stopping early abandons the read.
//
// A sequence that is never ranged over keeps its pending entry and span open
// until ctx is done, so callers that may drop it should pass a cancellable
// ctx.
func (s *Session) ReadResource(ctx context.Context, uri string) (iter.Seq2[string, error], error) {
	ctx, span := s.startSpan(ctx, mcpjsonrpc.MethodResourcesRead, attribute.String("mcp.resource", uri))

	if err := s.active(); err != nil {
		endSpan(span, err)
		return nil, err
	}
	params := mcpjsonrpc.ReadResourceParams{URI: uri}
	buf := newChunkBuffer()
	pc := &pendingCall{inv: newInvocation(mcpjsonrpc.MethodResourcesRead, params), chunks: buf}
	id, err := s.start(ctx, mcpjsonrpc.MethodResourcesRead, params, pc)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if err := buf.ready(ctx); err != nil {
		s.take(id)
		endSpan(span, err)
		return nil, err
	}

	var (
		consumed atomic.Bool
		once     sync.Once
	)
	finish := func(count int, err error) {
		once.Do(func() {
			s.take(id)
			span.SetAttributes(attribute.Int("mcp.resource.items", count))
			endSpan(span, err)
		})
	}
	stop := context.AfterFunc(ctx, func() {
		if consumed.CompareAndSwap(false, true) {
			finish(0, ctx.Err())
		}
	})

	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", fmt.Errorf("%w: resource %s sequence already consumed", domain.ErrIncompleteResource, uri))
			return
		}
		stop()

		var readErr error
		count := 0
		defer func() { finish(count, readErr) }()
		for {
			item, ok, err := buf.next(ctx)
			if err != nil {
				readErr = err
				yield("", err)
				return
			}
			if !ok {
				return
			}
			count++
			if !yield(item, nil) {
				return
			}
		}
	}, nil
}
