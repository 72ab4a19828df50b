package gemini

import (
	"os"

	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/providers"
)

func init() {
	providers.MustRegister(&Factory{})
}

// Factory creates Gemini provider clients
type Factory struct{}

// Name returns the provider id
func (f *Factory) Name() string {
	return providers.ProviderGemini
}

// Description returns a human-readable description
func (f *Factory) Description() string {
	return "Google Gemini generateContent API"
}

// DetectEnvironment reports availability based on GEMINI_API_KEY or
// GOOGLE_AI_API_KEY
func (f *Factory) DetectEnvironment() (int, bool) {
	if discoverAPIKey() == "" {
		return 0, false
	}
	return 90, true
}

func discoverAPIKey() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("GOOGLE_AI_API_KEY")
}

// Create creates a Gemini client from configuration, falling back to
// environment discovery for the credential
func (f *Factory) Create(config *providers.Config) core.ProviderClient {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = discoverAPIKey()
	}
	return NewClient(apiKey, config.BaseURL, config)
}
