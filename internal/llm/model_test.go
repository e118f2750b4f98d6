package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, isFatalAPIError(tt.err))
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		wrapped := wrapFatalError(errors.New("invalid api key provided"))
		assert.ErrorIs(t, wrapped, ErrFatalAPI)
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		assert.NotErrorIs(t, result, ErrFatalAPI)
		assert.Same(t, err, result)
	})

	t.Run("nil error", func(t *testing.T) {
		assert.NoError(t, wrapFatalError(nil))
	})
}

// failingModel is an llms.Model whose every call fails with err.
type failingModel struct {
	err error
}

func (f failingModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, f.err
}

func (f failingModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", f.err
}

// usageModel reports fixed token usage in its generation info.
type usageModel struct {
	info map[string]any
	seen []llms.MessageContent
}

func (u *usageModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	u.seen = msgs
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "The Witch (2015)",
		GenerationInfo: u.info,
	}}}, nil
}

func (u *usageModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, u, prompt, opts...)
}

func TestModelChat(t *testing.T) {
	fakeLLM := fake.NewFakeLLM([]string{"first", "second"})
	m := NewModelFrom(fakeLLM, "fake", 0.4, nil)

	out, err := m.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = m.GenerateWithSystem(context.Background(), "system", "hello")
	require.NoError(t, err)
	assert.Equal(t, "second", out)
	assert.Equal(t, "fake", m.Model())
}

func TestModelChatWrapsErrors(t *testing.T) {
	collector := metrics.NewCollector()
	m := NewModelFrom(failingModel{err: errors.New("HTTP 401: invalid api key")}, "broken", 0, collector)

	_, err := m.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLanguageModel)
	assert.ErrorIs(t, err, ErrFatalAPI)

	snap := collector.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	assert.Equal(t, int64(1), snap.LLMGenerate.Errors)
}

func TestModelRecordsTokenUsage(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]any
		wantIn  int64
		wantOut int64
	}{
		{"openai keys", map[string]any{"PromptTokens": 120, "CompletionTokens": 30}, 120, 30},
		{"anthropic keys", map[string]any{"InputTokens": 80, "OutputTokens": 12}, 80, 12},
		{"missing info", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := metrics.NewCollector()
			model := &usageModel{info: tt.info}
			m := NewModelFrom(model, "usage", 0.4, collector)

			out, err := m.GenerateWithSystem(context.Background(), "sys", "who directed it?")
			require.NoError(t, err)
			assert.Equal(t, "The Witch (2015)", out)
			require.Len(t, model.seen, 2)
			assert.Equal(t, llms.ChatMessageTypeSystem, model.seen[0].Role)

			snap := collector.Snapshot()
			require.NotNil(t, snap.LLMGenerate)
			if tt.wantIn == 0 && tt.wantOut == 0 {
				assert.Nil(t, snap.LLMGenerate.TotalInputTokens)
				return
			}
			require.NotNil(t, snap.LLMGenerate.TotalInputTokens)
			assert.Equal(t, tt.wantIn, *snap.LLMGenerate.TotalInputTokens)
			assert.Equal(t, tt.wantOut, *snap.LLMGenerate.TotalOutputTokens)
		})
	}
}

func TestModelCallSatisfiesLLMInterface(t *testing.T) {
	collector := metrics.NewCollector()
	var m llms.Model = NewModelFrom(fake.NewFakeLLM([]string{"The Witch"}), "fake", 0.4, collector)

	out, err := m.Call(context.Background(), "which film?")
	require.NoError(t, err)
	assert.Equal(t, "The Witch", out)
	assert.Equal(t, int64(1), collector.Snapshot().LLMGenerate.Count)
}
