package mcphttp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/i2y/nlquery/internal/usecase"
	"github.com/i2y/nlquery/pkg/shared/mcpjsonrpc"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultQueueSize = 64
	maxMessageBytes  = 1 << 20
)

// Config controls the SSE transport.
type Config struct {
	SSEPath           string // e.g. "/sse"
	MessagePath       string // e.g. "/messages/"
	HeartbeatInterval time.Duration
	QueueSize         int // outbound events buffered per session

	ServerName    string
	ServerVersion string
	Instructions  string
}

// Handlers struct holds dependencies for the HTTP handlers.
type Handlers struct {
	serve    *usecase.ServeCapabilitiesUseCase
	invoke   *usecase.InvokeToolUseCase
	cfg      Config
	sessions *sessionTable
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(
	serveUC *usecase.ServeCapabilitiesUseCase,
	invokeUC *usecase.InvokeToolUseCase,
	cfg Config,
	logger *slog.Logger,
) *Handlers {
	if cfg.SSEPath == "" {
		cfg.SSEPath = "/sse"
	}
	if cfg.MessagePath == "" {
		cfg.MessagePath = "/messages/"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "nlquery"
	}
	return &Handlers{
		serve:    serveUC,
		invoke:   invokeUC,
		cfg:      cfg,
		sessions: newSessionTable(),
		logger:   logger.With("component", "mcphttp_handler"),
	}
}

// RegisterRoutes sets up the SSE stream, message and health endpoints.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+h.cfg.SSEPath, h.handleSSE)
	mux.HandleFunc("POST "+h.cfg.MessagePath, h.handleMessage)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// SessionCount returns the number of connected sessions.
func (h *Handlers) SessionCount() int {
	return h.sessions.len()
}

// Close ends every open SSE stream. http.Server.Shutdown does not interrupt
// streaming handlers, so call this first.
func (h *Handlers) Close() {
	h.sessions.closeAll()
}

// handleSSE implements GET /sse. It announces the message endpoint, then
// drains the session's outbound queue and emits heartbeats until the client
// goes away or the session is closed.
func (h *Handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sess := newServerSession(h.cfg.QueueSize)
	h.sessions.add(sess)
	defer func() {
		h.sessions.remove(sess.id)
		sess.close()
	}()

	log := h.logger.With(slog.String("session_id", sess.id))
	log.Info("Client connected", slog.String("remote_addr", r.RemoteAddr))
	defer log.Info("Client session ended")

	endpoint := fmt.Sprintf("%s?session_id=%s", h.cfg.MessagePath, sess.id)
	if err := writeEvent(w, flusher, eventEndpoint, []byte(endpoint)); err != nil {
		log.Warn("Failed to send endpoint event", slog.Any("error", err))
		return
	}

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.done():
			return
		case ev := <-sess.out:
			if err := writeEvent(w, flusher, ev.event, ev.data); err != nil {
				log.Warn("Failed to write event", slog.Any("error", err))
				return
			}
		case now := <-heartbeat.C:
			if err := writeEvent(w, flusher, eventPing, []byte(now.UTC().Format(time.RFC3339))); err != nil {
				log.Warn("Failed to write heartbeat", slog.Any("error", err))
				return
			}
		}
	}
}

// handleMessage implements POST /messages/?session_id=<id>. The message is
// acknowledged with 202 and answered asynchronously on the SSE stream.
func (h *Handlers) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	sess, ok := h.sessions.get(sessionID)
	if !ok {
		h.logger.Warn("Message for unknown session", slog.String("session_id", sessionID))
		http.Error(w, "Could not find session", http.StatusNotFound)
		return
	}
	log := h.logger.With(slog.String("session_id", sessionID))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	defer r.Body.Close()
	if err != nil {
		log.Warn("Failed to read message body", slog.Any("error", err))
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	msg, err := mcpjsonrpc.Decode(body)
	if err != nil {
		log.Warn("Failed to decode message", slog.Any("error", err))
		h.rejectMalformed(sess, body, msg, err)
		http.Error(w, fmt.Sprintf("Invalid message: %v", err), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	go h.dispatch(sess, msg)
}

// rejectMalformed answers a bad message on the stream when its id can be
// recovered, so the caller's pending request does not hang.
func (h *Handlers) rejectMalformed(sess *serverSession, body []byte, msg *mcpjsonrpc.Message, decodeErr error) {
	var id json.RawMessage
	code := mcpjsonrpc.CodeParseError
	if msg != nil {
		id = msg.ID
		code = mcpjsonrpc.CodeInvalidRequest
	} else {
		var probe struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal(body, &probe) == nil {
			id = probe.ID
		}
	}
	if len(id) == 0 || string(id) == "null" {
		return
	}
	_ = sess.send(mcpjsonrpc.NewErrorResponse(id, code, decodeErr.Error(), nil))
}

type healthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	ReadySessions int    `json:"ready_sessions"`
	Capabilities  any    `json:"capabilities"`
}

// handleHealth implements GET /healthz. ready_sessions counts sessions whose
// client has sent notifications/initialized.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, ready := h.sessions.counts()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		Sessions:      total,
		ReadySessions: ready,
		Capabilities:  h.serve.Summary(),
	})
}
