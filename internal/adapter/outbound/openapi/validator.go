package openapi

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/nlquery/internal/domain"
)

// ArgumentValidator implements the usecase.ArgumentValidator interface by
// converting tool parameters into OpenAPI 3 schemas and validating argument
// values against them.
type ArgumentValidator struct {
	logger *slog.Logger
}

// NewArgumentValidator creates a new ArgumentValidator.
func NewArgumentValidator(logger *slog.Logger) *ArgumentValidator {
	return &ArgumentValidator{
		logger: logger.With("component", "openapi_validator"),
	}
}

// Validate checks args against the tool's declared parameters and returns the
// arguments with defaults applied for absent optional parameters. Violations
// are reported as domain.ErrInvalidArguments.
func (v *ArgumentValidator) Validate(tool domain.ToolDef, args map[string]any) (map[string]any, error) {
	log := v.logger.With(slog.String("tool", tool.Key()))

	out := make(map[string]any, len(tool.Parameters))
	for k, val := range args {
		out[k] = val
	}

	for _, param := range tool.Parameters {
		value, present := out[param.Name]
		if !present || value == nil {
			if param.Required {
				log.Debug("Missing required argument.", slog.String("param", param.Name))
				return nil, fmt.Errorf("%w: missing required parameter %q for tool %q", domain.ErrInvalidArguments, param.Name, tool.Key())
			}
			if param.Default != nil {
				out[param.Name] = param.Default
			}
			continue
		}

		schema := SchemaForParameter(param)
		if err := schema.VisitJSON(normalizeNumber(value)); err != nil {
			reason := err.Error()
			var schemaErr *openapi3.SchemaError
			if errors.As(err, &schemaErr) && schemaErr.Reason != "" {
				reason = schemaErr.Reason
			}
			log.Debug("Argument failed schema validation.", slog.String("param", param.Name), slog.String("reason", reason))
			return nil, fmt.Errorf("%w: parameter %q of tool %q: %s", domain.ErrInvalidArguments, param.Name, tool.Key(), reason)
		}
	}
	return out, nil
}

// SchemaForParameter returns the OpenAPI schema describing one parameter.
func SchemaForParameter(param domain.ToolParameter) *openapi3.Schema {
	var schema *openapi3.Schema
	switch param.Type {
	case domain.ParamTypeNumber:
		schema = &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeNumber}}
	case domain.ParamTypeBoolean:
		schema = openapi3.NewBoolSchema()
	case domain.ParamTypeObject:
		schema = openapi3.NewObjectSchema()
	case domain.ParamTypeArray:
		schema = openapi3.NewArraySchema()
		schema.Items = openapi3.NewSchemaRef("", &openapi3.Schema{})
	default:
		schema = openapi3.NewStringSchema()
	}
	schema.Description = param.Description
	schema.Default = param.Default
	return schema
}

// normalizeNumber widens Go integer and float32 values to float64, the form
// JSON decoding produces, so in-process callers validate like wire callers.
func normalizeNumber(value any) any {
	switch n := value.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return value
}
