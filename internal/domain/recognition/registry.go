package recognition

import (
	"net/http"
)

// Endpoint holds credentials and location of one remote backend.
type Endpoint struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Settings configures the provider set.
type Settings struct {
	Bibs          Range
	HybridMargin  float64
	HTTPClient    *http.Client
	RatePerSecond float64

	Gemini       Endpoint
	OpenAI       Endpoint
	DeepSeek     Endpoint
	GoogleVision Endpoint
}

// NewProviders builds every known provider. Each remote provider gets its
// own rate limiter over the shared HTTP client.
func NewProviders(s Settings) []Provider {
	if s.Bibs == (Range{}) {
		s.Bibs = DefaultRange
	}
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	gemini := NewGeminiProvider(s.Gemini.APIKey, s.Gemini.Model, s.Gemini.BaseURL, s.Bibs,
		newAPIClient(s.HTTPClient, s.RatePerSecond))
	vision := NewVisionProvider(s.GoogleVision.APIKey, s.GoogleVision.BaseURL, s.Bibs,
		newAPIClient(s.HTTPClient, s.RatePerSecond))

	return []Provider{
		gemini,
		NewDeepSeekProvider(s.DeepSeek.APIKey),
		NewOpenAIProvider(s.OpenAI.APIKey, s.OpenAI.Model, s.OpenAI.BaseURL, s.Bibs,
			newAPIClient(s.HTTPClient, s.RatePerSecond)),
		vision,
		NewOCRProvider(s.Bibs),
		NewHybridProvider(gemini, vision, s.HybridMargin),
	}
}
