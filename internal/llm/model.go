package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model wraps a langchaingo LLM for chat generation. It is safe for concurrent use.
type Model struct {
	llm         llms.Model
	modelName   string
	temperature float64
	metrics     *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		client, clientErr := newBedrockClient(ctx, cfg.AWSRegion)
		if clientErr != nil {
			return nil, clientErr
		}
		model, err = bedrock.New(
			bedrock.WithModel(cfg.LLMModel),
			bedrock.WithClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFrom(model, cfg.LLMModel, cfg.LLMTemperature, collector), nil
}

// NewModelFrom wraps an existing langchaingo model.
func NewModelFrom(model llms.Model, modelName string, temperature float64, collector *metrics.Collector) *Model {
	return &Model{
		llm:         model,
		modelName:   modelName,
		temperature: temperature,
		metrics:     collector,
	}
}

func newBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// GenerateContent implements llms.Model. The configured temperature is
// applied before caller options, and failures wrap ErrLanguageModel.
func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := append([]llms.CallOption{llms.WithTemperature(m.temperature)}, options...)

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, opts...)
	duration := time.Since(start)

	if err != nil {
		m.metrics.RecordFailure(metrics.OpLLMGenerate, duration)
		slog.Warn("llm generate failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLanguageModel, wrapFatalError(err))
	}

	if len(response.Choices) == 0 {
		m.metrics.RecordFailure(metrics.OpLLMGenerate, duration)
		return nil, fmt.Errorf("%w: no response choices", ErrLanguageModel)
	}

	inputTokens, outputTokens := tokenUsage(response.Choices[0].GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, inputTokens, outputTokens)
	slog.Debug("llm generate complete", "model", m.modelName, "duration_ms", duration.Milliseconds(),
		"input_tokens", inputTokens, "output_tokens", outputTokens)

	return response, nil
}

// Call implements llms.Model for single-prompt callers such as chains.
func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Chat sends a message sequence and returns the first choice's text.
func (m *Model) Chat(ctx context.Context, messages []llms.MessageContent) (string, error) {
	response, err := m.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	return response.Choices[0].Content, nil
}

// Generate generates text based on a single prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	return m.Chat(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.Chat(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	})
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage reads token counts from provider generation info.
// OpenAI and Ollama report PromptTokens/CompletionTokens, Anthropic
// InputTokens/OutputTokens.
func tokenUsage(info map[string]any) (input, output int64) {
	input = firstCount(info, "PromptTokens", "InputTokens")
	output = firstCount(info, "CompletionTokens", "OutputTokens")
	return input, output
}

func firstCount(info map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

var _ llms.Model = (*Model)(nil)
