package mcphttp

import (
	"io"
	"net/http"
	"strings"
)

// SSE event names used on the stream.
const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"
	eventPing     = "ping"
)

// writeEvent writes one SSE event and flushes it to the client.
func writeEvent(w io.Writer, flusher http.Flusher, event string, data []byte) error {
	if _, err := io.WriteString(w, formatSSEEvent(event, string(data))); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// formatSSEEvent formats data as an SSE event. Multi-line data is split into
// one data field per line.
func formatSSEEvent(event, data string) string {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
