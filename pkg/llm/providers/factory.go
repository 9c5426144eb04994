package providers

import (
	"net/http"

	"github.com/tombee/autoflow/pkg/errors"
	"github.com/tombee/autoflow/pkg/llm"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai" (default, also used for compatible servers) or
	// "anthropic".
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	default:
		return nil, &errors.ConfigError{Key: "llm.provider", Reason: "unknown provider " + cfg.Provider}
	}
}
