package aiconnectors

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// KnownProviders returns the closed set of supported providers in a stable order
func KnownProviders() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderClaude,
		ProviderGemini,
		ProviderDeepSeek,
		ProviderOllama,
		ProviderCohere,
	}
}

// DefaultModel returns the model used for a provider when a character does
// not pin one.
func DefaultModel(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderClaude:
		return "claude-3-5-sonnet-20240620"
	case ProviderGemini:
		return "gemini-1.5-pro"
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderOllama:
		return "llama3"
	case ProviderCohere:
		return "command"
	default:
		return ""
	}
}

// APIKeyEnvName names the environment variable a provider's credential is
// read from, or "" for keyless providers.
func APIKeyEnvName(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderClaude:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderCohere:
		return "COHERE_API_KEY"
	default:
		return ""
	}
}

// APIKeyFromEnv resolves the conventional environment credential for a provider
func APIKeyFromEnv(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderClaude:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case ProviderDeepSeek:
		return os.Getenv("DEEPSEEK_API_KEY")
	case ProviderCohere:
		return os.Getenv("COHERE_API_KEY")
	case ProviderOllama:
		// Ollama is keyless; OLLAMA_HOST carries the server URL instead
		return ""
	default:
		return ""
	}
}

// BaseURLFromEnv resolves a provider's endpoint override from the environment
func BaseURLFromEnv(provider Provider) string {
	switch provider {
	case ProviderOllama:
		return os.Getenv("OLLAMA_HOST")
	case ProviderDeepSeek:
		return os.Getenv("DEEPSEEK_BASE_URL")
	default:
		return ""
	}
}

// ParseProvider normalizes a provider name from a setup file. Aliases from
// older setup files ("openai", "anthropic", "google", "local") map onto the
// canonical provider keys.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai-gpt", "openai", "gpt":
		return ProviderOpenAI, nil
	case "claude", "anthropic":
		return ProviderClaude, nil
	case "gemini", "google", "googleai":
		return ProviderGemini, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "ollama", "local":
		return ProviderOllama, nil
	case "cohere":
		return ProviderCohere, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", name)
	}
}

// AssignmentPool returns the providers characters are drawn from when a
// setup leaves model assignment to chance.
func AssignmentPool() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderClaude,
		ProviderGemini,
		ProviderDeepSeek,
		ProviderOllama,
	}
}

// RandomProvider picks one provider from the assignment pool using rng
func RandomProvider(rng *rand.Rand) Provider {
	pool := AssignmentPool()
	return pool[rng.Intn(len(pool))]
}

// ValidateAPIKey validates the provided API key against the provider.
// It returns (false, nil) for rejected credentials; errors are reserved for
// setup problems on our side.
func ValidateAPIKey(ctx context.Context, provider Provider, apiKey string, baseURL string) (bool, error) {
	log.Debug().
		Str("provider", string(provider)).
		Str("base_url", baseURL).
		Msg("Starting API key validation")

	// For Ollama, validate by trying to fetch models instead of text generation
	if provider == ProviderOllama {
		if _, err := FetchOllamaModels(ctx, baseURL); err != nil {
			log.Error().Err(err).
				Str("base_url", baseURL).
				Msg("Ollama validation failed - could not fetch models")
			return false, nil
		}
		return true, nil
	}

	connector, err := NewConnector(ctx, ConnectorOptions{
		Provider: provider,
		APIKey:   apiKey,
		BaseURL:  baseURL,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create connector: %w", err)
	}

	_, _, err = connector.Call(ctx, "test", llms.WithMaxTokens(10))
	if err != nil {
		connErr := Classify(provider, err)
		if connErr.Kind == ErrTransient {
			// Quota noise usually means the key itself is fine
			return false, fmt.Errorf("rate limited during validation, the key may still be valid: %w", err)
		}
		log.Debug().Err(err).
			Str("provider", string(provider)).
			Msg("API key validation failed")
		return false, nil
	}

	return true, nil
}
