package mcpjsonrpc

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/nlquery/internal/domain"
)

// orderKey records a parameter's position inside its JSON Schema property so
// the declared order survives the round trip through an unordered object.
const orderKey = "x-order"

// ToolToWire converts a tool definition into its advertised mcp.Tool form
// with a JSON Schema input description.
func ToolToWire(def domain.ToolDef) mcp.Tool {
	props := make(map[string]any, len(def.Parameters))
	var required []string
	for i, p := range def.Parameters {
		prop := map[string]any{
			"type":   string(p.Type),
			orderKey: i,
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return mcp.Tool{
		Name:        def.Key(),
		Description: def.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// ToolFromWire converts an advertised tool back into a definition.
// Parameter order follows the x-order hint, then name.
func ToolFromWire(t mcp.Tool) domain.ToolDef {
	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, name := range t.InputSchema.Required {
		required[name] = true
	}

	type ordered struct {
		pos   float64
		param domain.ToolParameter
	}
	params := make([]ordered, 0, len(t.InputSchema.Properties))
	for name, raw := range t.InputSchema.Properties {
		p := domain.ToolParameter{Name: name, Type: domain.ParamTypeString, Required: required[name]}
		pos := float64(len(t.InputSchema.Properties))
		if schema, ok := raw.(map[string]any); ok {
			if typ, ok := schema["type"].(string); ok && typ != "" {
				p.Type = domain.ParamType(typ)
				if typ == "integer" {
					p.Type = domain.ParamTypeNumber
				}
			}
			if desc, ok := schema["description"].(string); ok {
				p.Description = desc
			}
			if !p.Required {
				p.Default = schema["default"]
			}
			pos = position(schema[orderKey], pos)
		}
		params = append(params, ordered{pos: pos, param: p})
	}
	sort.SliceStable(params, func(i, j int) bool {
		if params[i].pos != params[j].pos {
			return params[i].pos < params[j].pos
		}
		return params[i].param.Name < params[j].param.Name
	})

	def := domain.ToolDef{
		Identifier:  t.Name,
		Name:        t.Name,
		Description: t.Description,
		Parameters:  make([]domain.ToolParameter, 0, len(params)),
	}
	for _, o := range params {
		def.Parameters = append(def.Parameters, o.param)
	}
	return def
}

func position(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return fallback
}

// ResourceToWire converts a resource definition to mcp.Resource.
func ResourceToWire(def domain.ResourceDef) mcp.Resource {
	return mcp.Resource{
		URI:         def.URI,
		Name:        def.Name,
		Description: def.Description,
		MIMEType:    def.MIMEType,
	}
}

// ResourceFromWire converts mcp.Resource to a resource definition.
func ResourceFromWire(r mcp.Resource) domain.ResourceDef {
	return domain.ResourceDef{
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MIMEType:    r.MIMEType,
	}
}

// PromptToWire converts a prompt template definition to mcp.Prompt.
func PromptToWire(def domain.PromptTemplateDef) mcp.Prompt {
	args := make([]mcp.PromptArgument, 0, len(def.Parameters))
	for _, p := range def.Parameters {
		args = append(args, mcp.PromptArgument{
			Name:        p.Name,
			Description: p.Description,
			Required:    p.Required,
		})
	}
	return mcp.Prompt{
		Name:        def.Name,
		Description: def.Description,
		Arguments:   args,
	}
}

// PromptFromWire converts mcp.Prompt to a prompt template definition.
func PromptFromWire(p mcp.Prompt) domain.PromptTemplateDef {
	params := make([]domain.PromptParameter, 0, len(p.Arguments))
	for _, a := range p.Arguments {
		params = append(params, domain.PromptParameter{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return domain.PromptTemplateDef{
		Name:        p.Name,
		Description: p.Description,
		Parameters:  params,
	}
}
