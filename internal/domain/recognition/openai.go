package recognition

import (
	"context"
	"fmt"
	"strings"
)

const openAIConfidence = 0.9

// OpenAIProvider calls an OpenAI compatible chat/completions endpoint with
// the images attached as data URIs.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	bibs    Range
	client  *apiClient
}

// NewOpenAIProvider builds an OpenAI provider.
func NewOpenAIProvider(apiKey, model, baseURL string, bibs Range, client *apiClient) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		bibs:    bibs,
		client:  client,
	}
}

func (p *OpenAIProvider) Name() string         { return OpenAI }
func (p *OpenAIProvider) HasCredentials() bool { return p.apiKey != "" }
func (p *OpenAIProvider) Synthetic() bool      { return false }

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Recognize implements Provider.
func (p *OpenAIProvider) Recognize(ctx context.Context, req Request) (Response, error) {
	if !p.HasCredentials() {
		return Response{}, fmt.Errorf("%s: %w", OpenAI, ErrMissingCredentials)
	}
	if len(req.Images) == 0 {
		return Response{}, ErrEmptyBatch
	}

	model := p.model
	if req.Config.OpenAIModel != "" {
		model = req.Config.OpenAIModel
	}

	content := make([]openAIContent, 0, len(req.Images)+1)
	content = append(content, openAIContent{Type: "text", Text: fmt.Sprintf(batchPrompt, len(req.Images))})
	for _, img := range req.Images {
		content = append(content, openAIContent{
			Type:     "image_url",
			ImageURL: &openAIImageURL{URL: img.DataURI(), Detail: "high"},
		})
	}
	body := openAIRequest{
		Model:     model,
		Messages:  []openAIMessage{{Role: "user", Content: content}},
		MaxTokens: 16 * len(req.Images),
	}

	var out openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := p.client.postJSON(ctx, p.baseURL+"/v1/chat/completions", headers, body, &out); err != nil {
		return Response{}, fmt.Errorf("%s: %w", OpenAI, err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: %w: no choices", OpenAI, ErrMalformedResponse)
	}

	results := ParseLines(out.Choices[0].Message.Content, len(req.Images), p.bibs, openAIConfidence)
	for i := range results {
		results[i].Provider = OpenAI
	}
	return Response{
		Results: results,
		Usage: []Usage{{
			Service:      OpenAI,
			Model:        model,
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		}},
	}, nil
}
