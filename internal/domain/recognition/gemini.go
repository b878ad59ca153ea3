package recognition

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	geminiConfidence = 0.9

	batchPrompt = "You will receive %d images of race participants, in order. " +
		"For each image, answer with the bib (race) number visible on the participant, one per line, " +
		"in the same order as the images. If no bib number is legible, answer NENHUM on that line. " +
		"Answer with digits only, no other text."
)

// GeminiProvider calls the Gemini generateContent endpoint with every image
// of the batch in a single request.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	bibs    Range
	client  *apiClient
}

// NewGeminiProvider builds a Gemini provider.
func NewGeminiProvider(apiKey, model, baseURL string, bibs Range, client *apiClient) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		bibs:    bibs,
		client:  client,
	}
}

func (p *GeminiProvider) Name() string         { return Gemini }
func (p *GeminiProvider) HasCredentials() bool { return p.apiKey != "" }
func (p *GeminiProvider) Synthetic() bool      { return false }

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Recognize implements Provider.
func (p *GeminiProvider) Recognize(ctx context.Context, req Request) (Response, error) {
	if !p.HasCredentials() {
		return Response{}, fmt.Errorf("%s: %w", Gemini, ErrMissingCredentials)
	}
	if len(req.Images) == 0 {
		return Response{}, ErrEmptyBatch
	}

	model := p.model
	if req.Config.GeminiModel != "" {
		model = req.Config.GeminiModel
	}

	parts := make([]geminiPart, 0, len(req.Images)+1)
	parts = append(parts, geminiPart{Text: fmt.Sprintf(batchPrompt, len(req.Images))})
	for _, img := range req.Images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: img.MIME, Data: img.Base64()}})
	}
	body := geminiRequest{Contents: []geminiContent{{Parts: parts}}}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))

	var out geminiResponse
	if err := p.client.postJSON(ctx, endpoint, nil, body, &out); err != nil {
		return Response{}, fmt.Errorf("%s: %w", Gemini, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Response{}, fmt.Errorf("%s: %w: no candidates", Gemini, ErrMalformedResponse)
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	results := ParseLines(text.String(), len(req.Images), p.bibs, geminiConfidence)
	for i := range results {
		results[i].Provider = Gemini
	}
	return Response{
		Results: results,
		Usage: []Usage{{
			Service:      Gemini,
			Model:        model,
			InputTokens:  out.UsageMetadata.PromptTokenCount,
			OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		}},
	}, nil
}
