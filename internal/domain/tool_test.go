package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i2y/nlquery/internal/domain"
)

func TestToolDef_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     domain.ToolDef
		wantErr bool
	}{
		{
			name: "Valid query tool",
			def: domain.ToolDef{Name: "query_db", Parameters: []domain.ToolParameter{
				{Name: "sql", Type: domain.ParamTypeString, Required: true},
				{Name: "limit", Type: domain.ParamTypeNumber, Default: float64(10)},
			}},
		},
		{name: "No parameters", def: domain.ToolDef{Name: "ping"}},
		{name: "Empty name", def: domain.ToolDef{}, wantErr: true},
		{
			name:    "Unnamed parameter",
			def:     domain.ToolDef{Name: "t", Parameters: []domain.ToolParameter{{Type: domain.ParamTypeString}}},
			wantErr: true,
		},
		{
			name: "Duplicate parameter",
			def: domain.ToolDef{Name: "t", Parameters: []domain.ToolParameter{
				{Name: "a", Type: domain.ParamTypeString},
				{Name: "a", Type: domain.ParamTypeString},
			}},
			wantErr: true,
		},
		{
			name:    "Unsupported type",
			def:     domain.ToolDef{Name: "t", Parameters: []domain.ToolParameter{{Name: "a", Type: "integer"}}},
			wantErr: true,
		},
		{
			name: "Required with default",
			def: domain.ToolDef{Name: "t", Parameters: []domain.ToolParameter{
				{Name: "a", Type: domain.ParamTypeString, Required: true, Default: "x"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestToolDef_KeyAndParameter(t *testing.T) {
	def := domain.ToolDef{Name: "query_db", Parameters: []domain.ToolParameter{{Name: "sql", Type: domain.ParamTypeString}}}
	assert.Equal(t, "query_db", def.Key())
	def.Identifier = "db.query"
	assert.Equal(t, "db.query", def.Key())

	p, ok := def.Parameter("sql")
	assert.True(t, ok)
	assert.Equal(t, domain.ParamTypeString, p.Type)
	_, ok = def.Parameter("nope")
	assert.False(t, ok)
}

func TestResourceDef_Validate(t *testing.T) {
	assert.NoError(t, domain.ResourceDef{URI: "db://schema"}.Validate())
	for _, uri := range []string{"", "schema", "://schema", "db://"} {
		assert.ErrorIs(t, domain.ResourceDef{URI: uri}.Validate(), domain.ErrInvalidDefinition, uri)
	}
}

func TestPromptTemplateDef_CheckArguments(t *testing.T) {
	def := domain.PromptTemplateDef{Name: "sql_prompt", Parameters: []domain.PromptParameter{
		{Name: "question", Required: true},
		{Name: "dialect"},
	}}
	assert.NoError(t, def.Validate())
	assert.NoError(t, def.CheckArguments(map[string]string{"question": "q"}))
	assert.ErrorIs(t, def.CheckArguments(map[string]string{"dialect": "sqlite"}), domain.ErrInvalidArguments)
	assert.ErrorIs(t, def.CheckArguments(nil), domain.ErrInvalidArguments)
}

func TestToolExecutionError(t *testing.T) {
	cause := errors.New("no such table: userz")
	err := fmt.Errorf("invoke: %w", &domain.ToolExecutionError{Tool: "query_db", Err: cause})

	assert.ErrorIs(t, err, domain.ErrToolExecution)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, domain.ErrInvalidArguments)

	var execErr *domain.ToolExecutionError
	assert.ErrorAs(t, err, &execErr)
	assert.Equal(t, "no such table: userz", execErr.Message())
	assert.Equal(t, "invoke: tool query_db: no such table: userz", err.Error())
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "handshaking", domain.SessionHandshaking.String())
	assert.Equal(t, "closed", domain.SessionClosed.String())
}
