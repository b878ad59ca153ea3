package recognition

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const visionDefaultConfidence = 0.8

// VisionProvider uses Google Cloud Vision TEXT_DETECTION. The first text
// annotation that parses as a valid bib wins for each image.
type VisionProvider struct {
	apiKey  string
	baseURL string
	bibs    Range
	client  *apiClient
}

// NewVisionProvider builds a Google Vision provider.
func NewVisionProvider(apiKey, baseURL string, bibs Range, client *apiClient) *VisionProvider {
	return &VisionProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		bibs:    bibs,
		client:  client,
	}
}

func (p *VisionProvider) Name() string         { return GoogleVision }
func (p *VisionProvider) HasCredentials() bool { return p.apiKey != "" }
func (p *VisionProvider) Synthetic() bool      { return false }

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image struct {
		Content string `json:"content"`
	} `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type visionResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string  `json:"description"`
			Confidence  float64 `json:"confidence"`
		} `json:"textAnnotations"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// Recognize implements Provider.
func (p *VisionProvider) Recognize(ctx context.Context, req Request) (Response, error) {
	if !p.HasCredentials() {
		return Response{}, fmt.Errorf("%s: %w", GoogleVision, ErrMissingCredentials)
	}
	if len(req.Images) == 0 {
		return Response{}, ErrEmptyBatch
	}

	body := visionRequest{Requests: make([]visionImageRequest, len(req.Images))}
	for i, img := range req.Images {
		body.Requests[i].Image.Content = img.Base64()
		body.Requests[i].Features = []visionFeature{{Type: "TEXT_DETECTION", MaxResults: 10}}
	}

	endpoint := fmt.Sprintf("%s/v1/images:annotate?key=%s", p.baseURL, url.QueryEscape(p.apiKey))
	var out visionResponse
	if err := p.client.postJSON(ctx, endpoint, nil, body, &out); err != nil {
		return Response{}, fmt.Errorf("%s: %w", GoogleVision, err)
	}
	if len(out.Responses) != len(req.Images) {
		return Response{}, fmt.Errorf("%s: %w: %d responses for %d images",
			GoogleVision, ErrMalformedResponse, len(out.Responses), len(req.Images))
	}

	results := make([]Result, len(req.Images))
	for i, r := range out.Responses {
		results[i].Provider = GoogleVision
		if r.Error != nil {
			results[i].Raw = r.Error.Message
			continue
		}
		for _, a := range r.TextAnnotations {
			for _, token := range strings.Fields(a.Description) {
				bib, ok := ParseBib(token, p.bibs)
				if !ok {
					continue
				}
				conf := a.Confidence
				if conf == 0 {
					conf = visionDefaultConfidence
				}
				results[i] = Result{Found: true, Bib: bib, Confidence: conf, Raw: token, Provider: GoogleVision}
				break
			}
			if results[i].Found {
				break
			}
		}
	}
	return Response{Results: results, Usage: []Usage{{Service: GoogleVision, Model: "text-detection"}}}, nil
}
