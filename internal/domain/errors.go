package domain

import "errors"

// Standard errors shared by the registry, the session and the orchestrator.
var (
	// Session / transport level. These are fatal to the session.
	ErrConnection       = errors.New("connection error")
	ErrProtocolMismatch = errors.New("protocol version mismatch")
	ErrTransport        = errors.New("transport error")
	ErrCancelled        = errors.New("invocation cancelled")
	ErrNotInitialized   = errors.New("session not initialized")

	// Registry / invocation level. These are local to one call.
	ErrUnknownTool         = errors.New("unknown tool")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrUnknownPrompt       = errors.New("unknown prompt")
	ErrDuplicateCapability = errors.New("duplicate capability")
	ErrInvalidArguments    = errors.New("invalid arguments")
	ErrInvalidDefinition   = errors.New("invalid capability definition")
	ErrToolExecution       = errors.New("tool execution error")
	ErrIncompleteResource  = errors.New("incomplete resource")

	// Orchestrator level.
	ErrTranslationFailure = errors.New("translation failure")
)

// ToolExecutionError wraps a fault raised by a tool handler or by the
// collaborator it called. It carries the original message so it can be
// reported to the caller as tool content.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return "tool " + e.Tool + ": " + e.Err.Error()
}

// Message returns the original fault message without the tool prefix.
func (e *ToolExecutionError) Message() string {
	return e.Err.Error()
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrToolExecution) hold for every ToolExecutionError.
func (e *ToolExecutionError) Is(target error) bool {
	return target == ErrToolExecution
}
