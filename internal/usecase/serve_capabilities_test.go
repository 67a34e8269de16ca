package usecase_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/nlquery/internal/domain"
	"github.com/i2y/nlquery/internal/usecase"
)

func TestServeCapabilitiesUseCase_Lists(t *testing.T) {
	reg := new(MockCapabilityRegistry)
	tools := []domain.ToolDef{usecase.QueryToolDef()}
	resources := []domain.ResourceDef{usecase.SchemaResourceDef()}
	prompts := []domain.PromptTemplateDef{usecase.SQLPromptDef()}
	reg.On("ListTools").Return(tools).Once()
	reg.On("ListResources").Return(resources).Once()
	reg.On("ListPrompts").Return(prompts).Once()
	reg.On("Summary").Return(domain.CapabilitySummary{Tools: 1, Resources: 1, Prompts: 1}).Once()

	uc := usecase.NewServeCapabilitiesUseCase(reg, newTestLogger())
	ctx := context.Background()
	assert.Equal(t, tools, uc.ListTools(ctx))
	assert.Equal(t, resources, uc.ListResources(ctx))
	assert.Equal(t, prompts, uc.ListPrompts(ctx))
	assert.Equal(t, domain.CapabilitySummary{Tools: 1, Resources: 1, Prompts: 1}, uc.Summary())
	reg.AssertExpectations(t)
}

func TestServeCapabilitiesUseCase_ReadResource(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown resource", func(t *testing.T) {
		reg := new(MockCapabilityRegistry)
		reg.On("ReadResource", mock.Anything, "db://nope").Return(nil, domain.ErrUnknownResource).Once()
		_, err := usecase.NewServeCapabilitiesUseCase(reg, newTestLogger()).ReadResource(ctx, "db://nope")
		assert.ErrorIs(t, err, domain.ErrUnknownResource)
	})

	t.Run("Production error passed through", func(t *testing.T) {
		boom := errors.New("catalog unavailable")
		var failing iter.Seq2[string, error] = func(yield func(string, error) bool) {
			if !yield("Table users:", nil) {
				return
			}
			yield("", boom)
		}
		reg := new(MockCapabilityRegistry)
		reg.On("ReadResource", mock.Anything, "db://schema").Return(failing, nil).Once()

		seq, err := usecase.NewServeCapabilitiesUseCase(reg, newTestLogger()).ReadResource(ctx, "db://schema")
		require.NoError(t, err)
		var items []string
		var gotErr error
		for item, err := range seq {
			if err != nil {
				gotErr = err
				break
			}
			items = append(items, item)
		}
		assert.Equal(t, []string{"Table users:"}, items)
		assert.ErrorIs(t, gotErr, boom)
	})

	t.Run("Early stop", func(t *testing.T) {
		reg := new(MockCapabilityRegistry)
		reg.On("ReadResource", mock.Anything, "db://schema").Return(seqOf("a", "b", "c"), nil).Once()
		seq, err := usecase.NewServeCapabilitiesUseCase(reg, newTestLogger()).ReadResource(ctx, "db://schema")
		require.NoError(t, err)
		for item := range seq {
			assert.Equal(t, "a", item)
			break
		}
	})
}

func TestServeCapabilitiesUseCase_GetPrompt(t *testing.T) {
	reg := new(MockCapabilityRegistry)
	args := map[string]string{"question": "q"}
	reg.On("GetPrompt", mock.Anything, "sql_prompt", args).Return("rendered", nil).Once()
	reg.On("GetPrompt", mock.Anything, "other", args).Return("", domain.ErrUnknownPrompt).Once()

	uc := usecase.NewServeCapabilitiesUseCase(reg, newTestLogger())
	text, err := uc.GetPrompt(context.Background(), "sql_prompt", args)
	require.NoError(t, err)
	assert.Equal(t, "rendered", text)

	_, err = uc.GetPrompt(context.Background(), "other", args)
	assert.ErrorIs(t, err, domain.ErrUnknownPrompt)
	reg.AssertExpectations(t)
}
