package recognition

import (
	"context"
	"fmt"
)

// DeepSeekProvider holds credentials so it takes part in chain construction,
// but the backend has no image input and every call fails over.
type DeepSeekProvider struct {
	apiKey string
}

// NewDeepSeekProvider builds a DeepSeek provider.
func NewDeepSeekProvider(apiKey string) *DeepSeekProvider {
	return &DeepSeekProvider{apiKey: apiKey}
}

func (p *DeepSeekProvider) Name() string         { return DeepSeek }
func (p *DeepSeekProvider) HasCredentials() bool { return p.apiKey != "" }
func (p *DeepSeekProvider) Synthetic() bool      { return false }

// Recognize always fails with ErrUnsupportedModality.
func (p *DeepSeekProvider) Recognize(_ context.Context, _ Request) (Response, error) {
	return Response{}, fmt.Errorf("%s: %w", DeepSeek, ErrUnsupportedModality)
}
