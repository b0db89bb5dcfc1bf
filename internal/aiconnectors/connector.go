package aiconnectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai" // Use googleai instead of gemini
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aideepspeak/pkg/models"
)

// Provider represents an AI provider type
type Provider string

const (
	// Provider types
	ProviderOpenAI   Provider = "openai-gpt"
	ProviderClaude   Provider = "claude"
	ProviderGemini   Provider = "gemini"
	ProviderDeepSeek Provider = "deepseek"
	ProviderOllama   Provider = "ollama"
	ProviderCohere   Provider = "cohere"
)

// DeepSeek exposes an OpenAI-compatible endpoint
const deepSeekBaseURL = "https://api.deepseek.com/v1"

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider Provider           `json:"provider"`
	APIKey   string             `json:"api_key"`
	BaseURL  string             `json:"base_url,omitempty"`
	Params   models.ModelParams `json:"params,omitempty"`
}

// Connector represents a connection to an AI provider
type Connector struct {
	provider Provider
	llm      llms.Model
	options  ConnectorOptions
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	if options.Params.Model == "" {
		options.Params.Model = DefaultModel(options.Provider)
	}
	if options.APIKey == "" {
		options.APIKey = APIKeyFromEnv(options.Provider)
	}
	if options.BaseURL == "" {
		options.BaseURL = BaseURLFromEnv(options.Provider)
	}

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Params.Model).
		Float64("temperature", options.Params.Temperature).
		Msg("Creating new connector")

	var model llms.Model
	var err error

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(ctx, options)
	case ProviderDeepSeek:
		model, err = createDeepSeekModel(ctx, options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(ctx, options)
	case ProviderCohere:
		model, err = createCohereModel(ctx, options)
	case ProviderOllama:
		model, err = createOllamaModel(ctx, options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return &Connector{
		provider: options.Provider,
		llm:      model,
		options:  options,
	}, nil
}

// Helper functions to create models for specific providers

func createOpenAIModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Params.Model),
		openai.WithToken(options.APIKey),
	}

	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}

	return openai.New(opts...)
}

func createDeepSeekModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = deepSeekBaseURL
	}

	opts := []openai.Option{
		openai.WithModel(options.Params.Model),
		openai.WithToken(options.APIKey),
		openai.WithBaseURL(baseURL),
	}

	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	// Keep construction minimal; the model is pinned per call with
	// llms.WithModel because googleai ignores some default-model setups.
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}

	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}

	return model, nil
}

func createAnthropicModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Params.Model),
	}

	return anthropic.New(opts...)
}

func createCohereModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.Params.Model),
	}

	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}

	return cohere.New(opts...)
}

func createOllamaModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}

	opts := []ollama.Option{
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Params.Model),
	}

	// Ollama has no constructor options for temperature, tokens, or top_p;
	// those go through llms.CallOption on each call instead.

	return ollama.New(opts...)
}

// Call sends the prompt and returns the reply text with its token usage.
// Provider failures come back classified as *ConnectorError.
func (c *Connector) Call(ctx context.Context, input string, options ...llms.CallOption) (string, models.Usage, error) {
	callOptions := []llms.CallOption{
		llms.WithTemperature(c.options.Params.Temperature),
	}

	if c.options.Params.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(c.options.Params.MaxTokens))
	}

	if c.options.Params.TopP > 0 {
		callOptions = append(callOptions, llms.WithTopP(c.options.Params.TopP))
	}

	if c.options.Params.TopK > 0 {
		callOptions = append(callOptions, llms.WithTopK(c.options.Params.TopK))
	}

	// googleai needs the model pinned per call
	if c.provider == ProviderGemini {
		callOptions = append(callOptions, llms.WithModel(c.options.Params.Model))
	}

	callOptions = append(callOptions, options...)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, messages, callOptions...)
	elapsed := time.Since(start)

	if err != nil {
		return "", models.Usage{}, Classify(c.provider, err)
	}

	if len(resp.Choices) == 0 {
		return "", models.Usage{}, &ConnectorError{
			Kind:     ErrInvalidResponse,
			Provider: c.provider,
			Err:      fmt.Errorf("model %s returned no choices", c.options.Params.Model),
		}
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", models.Usage{}, &ConnectorError{
			Kind:     ErrInvalidResponse,
			Provider: c.provider,
			Err:      fmt.Errorf("model %s returned an empty reply", c.options.Params.Model),
		}
	}

	usage := usageFromGenerationInfo(resp.Choices[0].GenerationInfo)
	usage.Model = c.options.Params.Model
	usage.TTFBSeconds = float64(elapsed.Round(10*time.Millisecond)) / float64(time.Second)

	log.Debug().
		Str("provider", string(c.provider)).
		Str("model", c.options.Params.Model).
		Int("total_tokens", usage.TotalTokens).
		Dur("elapsed", elapsed).
		Msg("Model call completed")

	return text, usage, nil
}

// GetProvider returns the provider of this connector
func (c *Connector) GetProvider() Provider {
	return c.provider
}

// GetModel returns the model name from the config
func (c *Connector) GetModel() string {
	return c.options.Params.Model
}

// usageFromGenerationInfo extracts token counts from the provider-specific
// generation info map. Providers disagree on key spelling, so every known
// variant is probed.
func usageFromGenerationInfo(info map[string]any) models.Usage {
	usage := models.Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens", "prompt_tokens", "InputTokens", "input_tokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens", "completion_tokens", "OutputTokens", "output_tokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens", "total_tokens"),
	}

	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return usage
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		value, ok := info[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
