package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/pkg/shared/mcpjsonrpc"
)

const instrumentationName = "github.com/i2y/nlquery/internal/adapter/outbound/mcpclient"

// errClosed resolves pending invocations when the session is closed locally.
var errClosed = fmt.Errorf("%w: session closed", domain.ErrCancelled)

// Config controls a client Session.
type Config struct {
	ClientName    string
	ClientVersion string

	// IdleTimeout kills the session when no event (heartbeats included)
	// arrives for this long. Zero disables it.
	IdleTimeout time.Duration

	// OnNotification receives server notifications other than resource
	// chunks. It runs on the read goroutine and must not block.
	OnNotification func(method string, params json.RawMessage)

	Dial DialConfig
}

// Session is one client connection to a capability server. It is safe for
// concurrent use: any number of invocations may be in flight at once.
type Session struct {
	stream Stream
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	state  atomic.Int32
	nextID atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]*pendingCall
	closed  bool
	err     error

	done chan struct{}

	serverInfo   mcp.Implementation
	summary      domain.CapabilitySummary
	instructions string
}

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one entry of the pending table. Resource reads carry a
// chunk buffer; every other call waits on resp. inv is owned by whoever
// holds the entry: the registering caller until send, then whoever takes it.
type pendingCall struct {
	inv    domain.Invocation
	resp   chan callResult
	chunks *chunkBuffer
}

func newPendingCall(method string, params any) *pendingCall {
	return &pendingCall{inv: newInvocation(method, params), resp: make(chan callResult, 1)}
}

// newInvocation describes the request method(params) before it is sent.
func newInvocation(method string, params any) domain.Invocation {
	inv := domain.Invocation{Kind: domain.InvocationControl, Target: method, Status: domain.InvocationPending}
	switch p := params.(type) {
	case mcpjsonrpc.CallToolParams:
		inv.Kind, inv.Target, inv.Arguments = domain.InvocationCallTool, p.Name, p.Arguments
	case mcpjsonrpc.ReadResourceParams:
		inv.Kind, inv.Target = domain.InvocationReadResource, p.URI
	case mcpjsonrpc.GetPromptParams:
		inv.Kind, inv.Target = domain.InvocationGetPrompt, p.Name
		if p.Arguments != nil {
			inv.Arguments = make(map[string]any, len(p.Arguments))
			for k, v := range p.Arguments {
				inv.Arguments[k] = v
			}
		}
	}
	return inv
}

func (p *pendingCall) logAttrs() []any {
	return []any{
		slog.Int64("id", p.inv.CorrelationID),
		slog.String("kind", string(p.inv.Kind)),
		slog.String("target", p.inv.Target),
		slog.String("status", string(p.inv.Status)),
	}
}

// resolve records the outcome and hands it to the waiter. It runs at most
// once per entry, by the goroutine that took it from the pending table.
func (p *pendingCall) resolve(r callResult) {
	if p.chunks != nil {
		if r.err == nil {
			var res mcpjsonrpc.ReadResourceResult
			if err := json.Unmarshal(r.result, &res); err != nil {
				r.err = fmt.Errorf("%w: decode read result: %w", domain.ErrIncompleteResource, err)
			} else {
				p.inv.Status = domain.InvocationSucceeded
				p.chunks.finish(res.Count, nil)
				return
			}
		}
		p.inv.Status = domain.InvocationFailed
		p.chunks.finish(0, r.err)
		return
	}
	p.inv.Status = domain.InvocationSucceeded
	if r.err != nil {
		p.inv.Status = domain.InvocationFailed
	}
	p.resp <- r
}

// Open dials the SSE stream at endpoint and performs the handshake.
func Open(ctx context.Context, endpoint string, cfg Config, logger *slog.Logger) (*Session, error) {
	stream, err := DialSSE(ctx, endpoint, cfg.Dial, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return OpenStream(ctx, stream, cfg, logger)
}

// OpenStream performs the handshake over an already established stream. The
// stream is closed if the handshake fails.
func OpenStream(ctx context.Context, stream Stream, cfg Config, logger *slog.Logger) (*Session, error) {
	if cfg.ClientName == "" {
		cfg.ClientName = "nlquery-host"
	}
	s := &Session{
		stream:  stream,
		cfg:     cfg,
		logger:  logger.With("component", "mcp_session"),
		tracer:  otel.Tracer(instrumentationName),
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
	s.state.Store(int32(domain.SessionHandshaking))
	go s.readLoop()

	if err := s.handshake(ctx); err != nil {
		s.terminate(errClosed)
		return nil, err
	}
	if !s.activate() {
		// The stream died between the initialize reply and now.
		return nil, s.closedErr()
	}
	s.logger.Info("Session established",
		slog.String("session_id", s.ID()),
		slog.String("server", s.serverInfo.Name),
		slog.String("server_version", s.serverInfo.Version),
		slog.Int("tools", s.summary.Tools),
		slog.Int("resources", s.summary.Resources),
		slog.Int("prompts", s.summary.Prompts))
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	params := mcpjsonrpc.InitializeParams{
		ProtocolVersion: mcpjsonrpc.ProtocolVersion,
		ClientInfo:      mcp.Implementation{Name: s.cfg.ClientName, Version: s.cfg.ClientVersion},
		Capabilities:    map[string]any{},
	}
	var res mcpjsonrpc.InitializeResult
	if err := s.call(ctx, mcpjsonrpc.MethodInitialize, params, &res); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if res.ProtocolVersion != mcpjsonrpc.ProtocolVersion {
		return fmt.Errorf("%w: server speaks %q, client speaks %q",
			domain.ErrProtocolMismatch, res.ProtocolVersion, mcpjsonrpc.ProtocolVersion)
	}
	s.serverInfo = res.ServerInfo
	s.summary = res.Capabilities
	s.instructions = res.Instructions

	return s.notify(ctx, mcpjsonrpc.NotificationReady, nil)
}

// activate moves Handshaking to Active unless the session has already been
// terminated. terminate changes state under the same lock.
func (s *Session) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.state.CompareAndSwap(int32(domain.SessionHandshaking), int32(domain.SessionActive))
}

// ID returns the server-assigned session id, if the endpoint carries one.
func (s *Session) ID() string {
	u, err := url.Parse(s.stream.Endpoint())
	if err != nil {
		return ""
	}
	return u.Query().Get("session_id")
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

// ServerInfo returns the server name and version from the handshake.
func (s *Session) ServerInfo() mcp.Implementation { return s.serverInfo }

// Summary returns the capability counts advertised by the server.
func (s *Session) Summary() domain.CapabilitySummary { return s.summary }

// Instructions returns the server's usage instructions, if any.
func (s *Session) Instructions() string { return s.instructions }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session died. It is nil while the session is open and
// after a local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session. Pending invocations fail with domain.ErrCancelled.
// Safe to call more than once.
func (s *Session) Close() error {
	s.terminate(errClosed)
	return nil
}

// terminate moves the session to Closed and resolves every pending entry
// exactly once. The first cause wins.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if cause != errClosed {
		s.err = cause
	}
	s.state.Store(int32(domain.SessionClosing))
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	pendingErr := cause
	if !errors.Is(cause, domain.ErrCancelled) {
		pendingErr = fmt.Errorf("%w: %w", domain.ErrCancelled, cause)
	}
	for _, pc := range pending {
		pc.resolve(callResult{err: pendingErr})
		s.logger.Debug("Invocation cancelled", pc.logAttrs()...)
	}

	if err := s.stream.Close(); err != nil {
		s.logger.Debug("Error closing stream", slog.Any("error", err))
	}
	close(s.done)
	s.state.Store(int32(domain.SessionClosed))

	if cause != errClosed {
		s.logger.Warn("Session lost", slog.Any("error", cause), slog.Int("pending", len(pending)))
	} else {
		s.logger.Info("Session closed", slog.Int("pending", len(pending)))
	}
}

// closedErr returns the error reported to callers on a dead session.
func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return errClosed
	}
	return fmt.Errorf("%w: %w", domain.ErrCancelled, s.err)
}

func (s *Session) register(pc *pendingCall) (int64, bool) {
	id := s.nextID.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	pc.inv.CorrelationID = id
	s.pending[id] = pc
	return id, true
}

// take removes and returns the pending entry for id. Whoever takes an entry
// owns its resolution.
func (s *Session) take(id int64) *pendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return pc
}

func (s *Session) lookup(id int64) *pendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id]
}

// send writes one envelope. A failed post kills the session.
func (s *Session) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	s.writeMu.Lock()
	err = s.stream.Send(ctx, data)
	s.writeMu.Unlock()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	cause := fmt.Errorf("%w: %w", domain.ErrTransport, err)
	s.terminate(cause)
	return fmt.Errorf("%w: %w", domain.ErrCancelled, cause)
}

func (s *Session) notify(ctx context.Context, method string, params any) error {
	n, err := mcpjsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.send(ctx, n)
}

// start registers pc and sends the request.
func (s *Session) start(ctx context.Context, method string, params any, pc *pendingCall) (int64, error) {
	id, ok := s.register(pc)
	if !ok {
		return 0, s.closedErr()
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("mcp.correlation_id", id),
		attribute.String("mcp.invocation.kind", string(pc.inv.Kind)),
		attribute.String("mcp.invocation.target", pc.inv.Target))

	req, err := mcpjsonrpc.NewRequest(id, method, params)
	if err == nil {
		err = s.send(ctx, req)
	}
	if err != nil {
		if s.take(id) != nil {
			pc.inv.Status = domain.InvocationFailed
		}
		return 0, err
	}
	s.logger.Debug("Invocation sent",
		slog.Int64("id", id),
		slog.String("kind", string(pc.inv.Kind)),
		slog.String("target", pc.inv.Target))
	return id, nil
}

// call performs one request/response round trip and decodes the result
// into out.
func (s *Session) call(ctx context.Context, method string, params any, out any) error {
	pc := newPendingCall(method, params)
	id, err := s.start(ctx, method, params, pc)
	if err != nil {
		return err
	}

	var r callResult
	select {
	case r = <-pc.resp:
	case <-ctx.Done():
		if s.take(id) != nil {
			pc.inv.Status = domain.InvocationFailed
			s.logger.Debug("Invocation abandoned by caller", append(pc.logAttrs(), slog.Any("error", ctx.Err()))...)
			return ctx.Err()
		}
		// Resolution already under way.
		r = <-pc.resp
	}
	if r.err != nil {
		return r.err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (s *Session) active() error {
	switch s.State() {
	case domain.SessionActive:
		return nil
	case domain.SessionHandshaking:
		return domain.ErrNotInitialized
	default:
		return s.closedErr()
	}
}

func (s *Session) startSpan(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("mcp.method", method), attribute.String("mcp.session_id", s.ID()))
	return s.tracer.Start(ctx, "mcp.client "+method, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// readLoop demultiplexes inbound events until the stream ends, the idle
// timer fires or the session is closed.
func (s *Session) readLoop() {
	var idle <-chan time.Time
	var timer *time.Timer
	if s.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(s.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	events := s.stream.Events()
	for {
		select {
		case <-s.done:
			return
		case <-idle:
			s.terminate(fmt.Errorf("%w: no event for %s (idle timeout)", domain.ErrTransport, s.cfg.IdleTimeout))
			return
		case ev, ok := <-events:
			if !ok {
				cause := s.stream.Err()
				if cause == nil {
					cause = errors.New("stream ended")
				}
				s.terminate(fmt.Errorf("%w: %w", domain.ErrTransport, cause))
				return
			}
			if timer != nil {
				timer.Reset(s.cfg.IdleTimeout)
			}
			switch ev.Name {
			case "message":
				s.route(ev.Data)
			case "ping":
				s.logger.Debug("Heartbeat", slog.String("at", string(ev.Data)))
			default:
				s.logger.Debug("Ignoring event", slog.String("event", ev.Name))
			}
		}
	}
}

func (s *Session) route(data []byte) {
	msg, err := mcpjsonrpc.Decode(data)
	if err != nil {
		s.logger.Warn("Dropping undecodable message", slog.Any("error", err))
		return
	}

	switch {
	case msg.IsResponse():
		id, ok := msg.Int64ID()
		if !ok {
			s.logger.Warn("Response without usable id", slog.String("id", string(msg.ID)), slog.Any("error", msg.Error))
			return
		}
		pc := s.take(id)
		if pc == nil {
			s.logger.Debug("Dropping response for unknown or settled invocation", slog.Int64("id", id))
			return
		}
		if msg.Error != nil {
			pc.resolve(callResult{err: mcpjsonrpc.AsDomainError(msg.Error)})
		} else {
			pc.resolve(callResult{result: msg.Result})
		}
		s.logger.Debug("Invocation resolved", pc.logAttrs()...)

	case msg.IsNotification() && msg.Method == mcpjsonrpc.NotificationChunk:
		var chunk mcpjsonrpc.ResourceChunk
		if err := json.Unmarshal(msg.Params, &chunk); err != nil {
			s.logger.Warn("Dropping malformed resource chunk", slog.Any("error", err))
			return
		}
		pc := s.lookup(chunk.RequestID)
		if pc == nil || pc.chunks == nil {
			s.logger.Debug("Dropping chunk for unknown read", slog.Int64("request_id", chunk.RequestID))
			return
		}
		pc.chunks.push(chunk.Index, chunk.Text)

	case msg.IsNotification():
		if s.cfg.OnNotification != nil {
			s.cfg.OnNotification(msg.Method, msg.Params)
		}

	case msg.IsRequest():
		go s.answerServerRequest(msg)
	}
}

// answerServerRequest replies to requests initiated by the server. Only ping
// is supported.
func (s *Session) answerServerRequest(msg *mcpjsonrpc.Message) {
	var resp *mcpjsonrpc.Response
	if msg.Method == mcpjsonrpc.MethodPing {
		resp, _ = mcpjsonrpc.NewResponse(msg.ID, struct{}{})
	} else {
		resp = mcpjsonrpc.NewErrorResponse(msg.ID, mcpjsonrpc.CodeMethodNotFound, "method not found: "+msg.Method, nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.send(ctx, resp); err != nil {
		s.logger.Debug("Failed to answer server request", slog.String("method", msg.Method), slog.Any("error", err))
	}
}
