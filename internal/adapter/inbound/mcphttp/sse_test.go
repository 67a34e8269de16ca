package mcphttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSSEEvent(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		want  string
	}{
		{name: "Single line", event: "message", data: `{"jsonrpc":"2.0"}`, want: "event: message\ndata: {\"jsonrpc\":\"2.0\"}\n\n"},
		{name: "Multi line", event: "message", data: "a\nb", want: "event: message\ndata: a\ndata: b\n\n"},
		{name: "Empty data", event: "ping", data: "", want: "event: ping\ndata: \n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSSEEvent(tt.event, tt.data))
		})
	}
}
