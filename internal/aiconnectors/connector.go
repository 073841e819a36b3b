// Package aiconnectors builds langchaingo models for the configured AI
// provider.
package aiconnectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pranalysis/internal/config"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderGoogleAI  Provider = "googleai"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderCohere    Provider = "cohere"
	ProviderOllama    Provider = "ollama"
)

// DefaultOllamaURL is used when no base_url is configured for ollama
const DefaultOllamaURL = "http://localhost:11434"

// Connector is a configured model plus its default call options
type Connector struct {
	provider Provider
	llm      llms.Model
	cfg      config.AIConfig
	logger   zerolog.Logger
}

// New creates a connector for cfg.Provider
func New(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*Connector, error) {
	provider := Provider(strings.ToLower(cfg.Provider))
	logger = logger.With().
		Str("component", "aiconnector").
		Str("provider", string(provider)).
		Str("model", cfg.Model).
		Logger()

	logger.Debug().Float64("temperature", cfg.Temperature).Msg("Creating new connector")

	var (
		model llms.Model
		err   error
	)
	switch provider {
	case ProviderGoogleAI, ProviderGemini:
		model, err = createGoogleAIModel(ctx, cfg)
	case ProviderOpenAI:
		model, err = createOpenAIModel(cfg)
	case ProviderAnthropic:
		model, err = createAnthropicModel(cfg)
	case ProviderCohere:
		model, err = createCohereModel(cfg)
	case ProviderOllama:
		model, err = createOllamaModel(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", provider, err)
	}

	return &Connector{provider: provider, llm: model, cfg: cfg, logger: logger}, nil
}

// NewWithModel wraps an already constructed model
func NewWithModel(model llms.Model, cfg config.AIConfig, logger zerolog.Logger) *Connector {
	return &Connector{
		provider: Provider(strings.ToLower(cfg.Provider)),
		llm:      model,
		cfg:      cfg,
		logger:   logger,
	}
}

func createGoogleAIModel(ctx context.Context, cfg config.AIConfig) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(cfg.Model),
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, googleai.WithDefaultMaxTokens(cfg.MaxTokens))
	}
	return googleai.New(ctx, opts...)
}

func createOpenAIModel(cfg config.AIConfig) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

func createAnthropicModel(cfg config.AIConfig) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return anthropic.New(opts...)
}

func createCohereModel(cfg config.AIConfig) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(cfg.APIKey),
		cohere.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(cfg.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(cfg config.AIConfig) (llms.Model, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(cfg.Model),
	)
}

// Call sends a single prompt with the configured temperature, token limit
// and model, followed by any extra options.
func (c *Connector) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	callOptions := []llms.CallOption{
		llms.WithTemperature(c.cfg.Temperature),
	}
	if c.cfg.Model != "" {
		callOptions = append(callOptions, llms.WithModel(c.cfg.Model))
	}
	if c.cfg.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(c.cfg.MaxTokens))
	}
	callOptions = append(callOptions, options...)

	return llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOptions...)
}

// Ping checks that the provider accepts the configured credentials. Ollama
// is checked by listing its models instead of generating text.
func (c *Connector) Ping(ctx context.Context) error {
	if c.provider == ProviderOllama {
		return ValidateOllamaConnection(ctx, c.cfg.BaseURL)
	}

	_, err := c.Call(ctx, "test", llms.WithMaxTokens(10))
	if err != nil {
		c.logger.Error().Err(err).Msg("AI provider check failed")
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
			return fmt.Errorf("quota exceeded, the API key is likely valid but rate limited: %w", err)
		}
		return fmt.Errorf("AI provider check failed: %w", err)
	}

	c.logger.Debug().Msg("AI provider check successful")
	return nil
}

// Provider returns the provider of this connector
func (c *Connector) Provider() Provider {
	return c.provider
}

// Model returns the configured model name
func (c *Connector) Model() string {
	return c.cfg.Model
}
