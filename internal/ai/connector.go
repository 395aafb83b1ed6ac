package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider represents an AI provider type.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// ConnectorOptions contains options for creating a connector.
type ConnectorOptions struct {
	Provider    Provider `json:"provider"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Connector wraps one configured LLM behind a single-prompt call.
type Connector struct {
	provider Provider
	llm      llms.Model
	options  ConnectorOptions
}

// NewConnector creates a connector for the specified provider.
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating AI connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
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

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.Model))
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(options ConnectorOptions) (llms.Model, error) {
	return anthropic.New(
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

// Generate calls the LLM with the given prompt and returns the raw response.
func (c *Connector) Generate(ctx context.Context, prompt string) (string, error) {
	callOptions := []llms.CallOption{
		llms.WithTemperature(c.options.Temperature),
	}
	if c.options.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(c.options.MaxTokens))
	}
	if c.options.Model != "" {
		callOptions = append(callOptions, llms.WithModel(c.options.Model))
	}

	return llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOptions...)
}

// Provider returns the provider of this connector.
func (c *Connector) Provider() Provider {
	return c.provider
}

// TestConnection probes the model with a trivial prompt. Used once at
// startup to decide between AI and fallback-only operation.
func (c *Connector) TestConnection(ctx context.Context) bool {
	reply, err := c.Generate(ctx, "Reply with just 'OK' if you can see this.")
	if err != nil {
		log.Warn().Err(err).Str("provider", string(c.provider)).Msg("AI connection test failed")
		return false
	}
	return len(reply) > 0
}

// DefaultModelForProvider returns the model used when none is configured.
func DefaultModelForProvider(p Provider) string {
	switch p {
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderClaude:
		return "claude-3-5-sonnet-latest"
	case ProviderOllama:
		return "llama3"
	default:
		return "gemini-2.5-flash"
	}
}
