package domain

import "fmt"

// ParamType is the declared JSON type of a tool parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeNumber  ParamType = "number"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeObject  ParamType = "object"
	ParamTypeArray   ParamType = "array"
)

// Valid reports whether t is one of the supported parameter types.
func (t ParamType) Valid() bool {
	switch t {
	case ParamTypeString, ParamTypeNumber, ParamTypeBoolean, ParamTypeObject, ParamTypeArray:
		return true
	}
	return false
}

// ToolParameter describes a single named argument of a Tool.
type ToolParameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	// Default is applied when an optional parameter is absent. It must be nil
	// for required parameters.
	Default any `json:"default,omitempty"`
}

// ToolDef is a named, schema-described remote operation.
// It is immutable once advertised for the lifetime of a Session.
type ToolDef struct {
	// Identifier is the registry key. Defaults to Name.
	Identifier  string          `json:"identifier"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Key returns the registry key of the tool.
func (t ToolDef) Key() string {
	if t.Identifier != "" {
		return t.Identifier
	}
	return t.Name
}

// Parameter looks up a parameter by name.
func (t ToolDef) Parameter(name string) (ToolParameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// Validate checks the structural invariants of the definition.
func (t ToolDef) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: tool name is empty", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return fmt.Errorf("%w: tool %q has a parameter without a name", ErrInvalidDefinition, t.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: tool %q declares parameter %q twice", ErrInvalidDefinition, t.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.Valid() {
			return fmt.Errorf("%w: parameter %q of tool %q has unsupported type %q", ErrInvalidDefinition, p.Name, t.Name, p.Type)
		}
		if p.Required && p.Default != nil {
			return fmt.Errorf("%w: required parameter %q of tool %q must not have a default", ErrInvalidDefinition, p.Name, t.Name)
		}
	}
	return nil
}

// ToolCall is a structured request to invoke one tool, as produced by the
// reasoning collaborator.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the content returned by a successful tool invocation.
// IsError marks results whose content carries a tool-level failure (for
// example a malformed query); the invocation itself still succeeded.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}
