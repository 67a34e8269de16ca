package mcphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/nlquery/internal/domain"
)

type outboundEvent struct {
	event string
	data  []byte
}

// serverSession is the server half of one SSE connection. Everything bound
// for the client goes through out, which only the SSE handler drains, so
// events reach the client in the order they were queued.
type serverSession struct {
	id          string
	out         chan outboundEvent
	ctx         context.Context
	cancel      context.CancelFunc
	initialized atomic.Bool
	// ready is set by notifications/initialized and reported by /healthz.
	ready atomic.Bool

	mu         sync.Mutex
	clientInfo mcp.Implementation
}

func newServerSession(queueSize int) *serverSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &serverSession{
		id:     uuid.NewString(),
		out:    make(chan outboundEvent, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// send queues v as a message event. It blocks while the queue is full and
// fails once the session is closed.
func (s *serverSession) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	select {
	case s.out <- outboundEvent{event: eventMessage, data: data}:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("session %s: %w", s.id, domain.ErrCancelled)
	}
}

func (s *serverSession) close() { s.cancel() }

func (s *serverSession) done() <-chan struct{} { return s.ctx.Done() }

func (s *serverSession) setClientInfo(info mcp.Implementation) {
	s.mu.Lock()
	s.clientInfo = info
	s.mu.Unlock()
}

func (s *serverSession) client() mcp.Implementation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// sessionTable indexes live sessions by id.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*serverSession
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*serverSession)}
}

func (t *sessionTable) add(s *serverSession) {
	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

func (t *sessionTable) get(id string) (*serverSession, bool) {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	return s, ok
}

func (t *sessionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// counts returns the number of live sessions and how many of them have
// completed the handshake.
func (t *sessionTable) counts() (total, ready int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		if s.ready.Load() {
			ready++
		}
	}
	return len(t.sessions), ready
}

func (t *sessionTable) closeAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		s.close()
	}
}
