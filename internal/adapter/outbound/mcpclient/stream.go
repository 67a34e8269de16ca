package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// Stream is the bidirectional transport a Session runs over: a push channel
// of events from the server and a way to post one message to it.
type Stream interface {
	// Events is closed when the stream ends; Err then reports why.
	Events() <-chan Event
	Send(ctx context.Context, data []byte) error
	Close() error
	Err() error
	// Endpoint is the URL messages are posted to.
	Endpoint() string
}

// DialConfig controls how the SSE stream is established.
type DialConfig struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	PostTimeout  time.Duration
}

// SSEStream implements Stream over GET /sse plus POST to the announced
// message endpoint.
type SSEStream struct {
	events   chan Event
	endpoint string
	post     *http.Client
	body     io.ReadCloser
	cancel   context.CancelFunc
	logger   *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// DialSSE connects to sseURL and waits for the endpoint event. Connection
// attempts are retried on network errors and 5xx responses.
func DialSSE(ctx context.Context, sseURL string, cfg DialConfig, logger *slog.Logger) (*SSEStream, error) {
	logger = logger.With("component", "sse_stream")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = cfg.RetryWaitMax
	}
	retryClient.Logger = logger
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	// The stream outlives ctx; ctx only bounds the dial.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := retryablehttp.NewRequestWithContext(streamCtx, http.MethodGet, sseURL, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	logger.Info("Connecting to SSE endpoint", slog.String("url", sseURL))
	resp, err := retryClient.Do(req)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", sseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		stop()
		cancel()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, sseURL)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		stop()
		cancel()
		return nil, fmt.Errorf("unexpected content type %q from %s", ct, sseURL)
	}

	postTimeout := cfg.PostTimeout
	if postTimeout <= 0 {
		postTimeout = 30 * time.Second
	}
	s := &SSEStream{
		events:  make(chan Event, 16),
		closing: make(chan struct{}),
		post:    &http.Client{Timeout: postTimeout, Transport: retryClient.HTTPClient.Transport},
		body:    resp.Body,
		cancel:  cancel,
		logger:  logger,
	}
	go s.readLoop(resp.Body)

	// The first event must announce where to post messages.
	select {
	case ev, ok := <-s.events:
		if !stop() {
			s.Close()
			return nil, ctx.Err()
		}
		if !ok {
			err := s.Err()
			s.Close()
			return nil, fmt.Errorf("stream closed before endpoint event: %w", err)
		}
		if ev.Name != "endpoint" {
			s.Close()
			return nil, fmt.Errorf("expected endpoint event, got %q", ev.Name)
		}
		endpoint, err := resolveEndpoint(sseURL, string(ev.Data))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.endpoint = endpoint
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	logger.Info("SSE stream established", slog.String("endpoint", s.endpoint))
	return s, nil
}

func resolveEndpoint(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream url %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// readLoop parses the SSE wire format into events.
func (s *SSEStream) readLoop(body io.Reader) {
	defer close(s.events)

	reader := bufio.NewReader(body)
	var name string
	var data [][]byte
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			s.setErr(err)
			return
		}
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if name == "" && data == nil {
				continue
			}
			if name == "" {
				name = "message"
			}
			select {
			case s.events <- Event{Name: name, Data: bytes.Join(data, []byte("\n"))}:
			case <-s.closing:
				return
			}
			name, data = "", nil
		case line[0] == ':':
			// comment
		default:
			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				name = string(value)
			case "data":
				data = append(data, append([]byte(nil), value...))
			}
		}
	}
}

func (s *SSEStream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Events returns the inbound event channel.
func (s *SSEStream) Events() <-chan Event { return s.events }

// Endpoint returns the absolute message URL announced by the server.
func (s *SSEStream) Endpoint() string { return s.endpoint }

// Err reports why the event channel closed.
func (s *SSEStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send posts one message. The server acknowledges with 202 and answers on
// the event stream.
func (s *SSEStream) Send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.post.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("message rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Close tears down the stream. Safe to call more than once.
func (s *SSEStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setErr(errors.New("stream closed"))
		close(s.closing)
		s.cancel()
		err = s.body.Close()
	})
	return err
}
