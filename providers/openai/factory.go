package openai

import (
	"os"
	"strings"

	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/providers"
)

func init() {
	providers.MustRegister(&Factory{})
}

// Factory creates OpenAI provider clients
type Factory struct{}

// Name returns the provider id
func (f *Factory) Name() string {
	return providers.ProviderOpenAI
}

// Description returns a human-readable description
func (f *Factory) Description() string {
	return "OpenAI chat-completions API (and compatible endpoints)"
}

// DetectEnvironment reports availability based on OPENAI_API_KEY.
// Keys that do not carry the sk- prefix are treated as absent so a
// stray placeholder value never selects the provider.
func (f *Factory) DetectEnvironment() (int, bool) {
	key := os.Getenv("OPENAI_API_KEY")
	if !ValidAPIKey(key) {
		return 0, false
	}
	return 100, true
}

// ValidAPIKey reports whether key looks like an OpenAI credential
func ValidAPIKey(key string) bool {
	return strings.HasPrefix(key, "sk-")
}

// Create creates an OpenAI client from configuration, falling back to
// environment discovery for the credential and endpoint
func (f *Factory) Create(config *providers.Config) core.ProviderClient {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if !ValidAPIKey(apiKey) {
		apiKey = ""
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_URL")
	}

	apiVersion := config.APIVersion
	if apiVersion == "" {
		apiVersion = os.Getenv("OPENAI_API_VERSION")
	}

	return NewClient(apiKey, baseURL, apiVersion, config)
}
