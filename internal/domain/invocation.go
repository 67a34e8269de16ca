package domain

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	SessionHandshaking SessionState = iota
	SessionActive
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionHandshaking:
		return "handshaking"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InvocationKind identifies what an Invocation targets.
type InvocationKind string

const (
	InvocationCallTool     InvocationKind = "call_tool"
	InvocationReadResource InvocationKind = "read_resource"
	InvocationGetPrompt    InvocationKind = "get_prompt"

	// InvocationControl covers session requests such as initialize, the
	// catalog listings and ping. Target is the method name.
	InvocationControl InvocationKind = "control"
)

// InvocationStatus is the resolution state of an Invocation.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationSucceeded InvocationStatus = "succeeded"
	InvocationFailed    InvocationStatus = "failed"
)

// Invocation is one request in flight over a Session, keyed by its
// correlation id.
type Invocation struct {
	CorrelationID int64
	Kind          InvocationKind
	Target        string // tool name, resource uri or prompt name
	Arguments     map[string]any
	Status        InvocationStatus
}
