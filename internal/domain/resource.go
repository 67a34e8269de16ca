package domain

import (
	"fmt"
	"strings"
)

// ResourceDef describes a URI-addressed, read-only, lazily produced content
// sequence.
type ResourceDef struct {
	URI         string `json:"uri"` // scheme-qualified, e.g. db://schema
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// Validate checks that the URI is present and scheme-qualified.
func (r ResourceDef) Validate() error {
	scheme, rest, ok := strings.Cut(r.URI, "://")
	if !ok || scheme == "" || rest == "" {
		return fmt.Errorf("%w: resource uri %q is not scheme-qualified", ErrInvalidDefinition, r.URI)
	}
	return nil
}

// PromptParameter is one named argument of a prompt template.
type PromptParameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// PromptTemplateDef describes a pure, parameterized text-rendering function.
type PromptTemplateDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []PromptParameter `json:"parameters"`
}

// Validate checks that the template is named and its parameters are unique.
func (p PromptTemplateDef) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: prompt name is empty", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(p.Parameters))
	for _, param := range p.Parameters {
		if _, dup := seen[param.Name]; dup || param.Name == "" {
			return fmt.Errorf("%w: prompt %q has an empty or duplicate parameter %q", ErrInvalidDefinition, p.Name, param.Name)
		}
		seen[param.Name] = struct{}{}
	}
	return nil
}

// CheckArguments returns ErrInvalidArguments when a required parameter is
// missing from args.
func (p PromptTemplateDef) CheckArguments(args map[string]string) error {
	for _, param := range p.Parameters {
		if !param.Required {
			continue
		}
		if _, ok := args[param.Name]; !ok {
			return fmt.Errorf("%w: prompt %q requires argument %q", ErrInvalidArguments, p.Name, param.Name)
		}
	}
	return nil
}

// CapabilitySummary is the capability count advertised during the handshake.
type CapabilitySummary struct {
	Tools     int `json:"tools"`
	Resources int `json:"resources"`
	Prompts   int `json:"prompts"`
}
