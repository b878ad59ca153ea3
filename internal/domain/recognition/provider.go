// Package recognition extracts bib numbers from capture images through an
// ordered chain of providers with failover.
package recognition

import (
	"context"

	"github.com/okian/dorsal/internal/domain/model"
)

// Provider names.
const (
	Gemini       = "gemini"
	OpenAI       = "openai"
	DeepSeek     = "deepseek"
	GoogleVision = "google-vision"
	OCR          = "ocr"
	Hybrid       = "hybrid"
)

// Provider is one bib recognition backend.
type Provider interface {
	Name() string
	// HasCredentials reports whether the provider can be called at all.
	HasCredentials() bool
	// Synthetic providers are never added to a fallback chain automatically.
	Synthetic() bool
	// Recognize returns exactly one Result per request image, in order.
	Recognize(ctx context.Context, req Request) (Response, error)
}

// Request is a batch of images of one event.
type Request struct {
	Images []Image
	Config model.EventConfig
}

// Response carries per-image results and the usage of every backend call
// made to produce them.
type Response struct {
	Results []Result
	Usage   []Usage
}

// Result is the outcome for a single image.
type Result struct {
	Found      bool
	Bib        int
	Confidence float64
	Raw        string
	Provider   string
}

// Usage is what a call consumed, for cost accounting.
type Usage struct {
	Service      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Descriptor describes a provider for chain construction.
type Descriptor struct {
	Name           string
	HasCredentials bool
	Synthetic      bool
}

// BuildChain returns the providers to try, in order: primary first, then
// every non-synthetic descriptor with credentials in the given order.
func BuildChain(primary string, descriptors []Descriptor) []string {
	chain := []string{primary}
	seen := map[string]struct{}{primary: {}}
	for _, d := range descriptors {
		if _, dup := seen[d.Name]; dup || d.Synthetic || !d.HasCredentials {
			continue
		}
		seen[d.Name] = struct{}{}
		chain = append(chain, d.Name)
	}
	return chain
}
