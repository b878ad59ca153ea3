package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultHybridMargin is the confidence lead the secondary provider needs to
// override the preferred one when they disagree.
const DefaultHybridMargin = 0.1

// HybridProvider runs a preferred and a secondary provider concurrently and
// reconciles their answers per image.
type HybridProvider struct {
	preferred Provider
	secondary Provider
	margin    float64
}

// NewHybridProvider combines two providers. preferred wins ties.
func NewHybridProvider(preferred, secondary Provider, margin float64) *HybridProvider {
	return &HybridProvider{preferred: preferred, secondary: secondary, margin: margin}
}

func (p *HybridProvider) Name() string { return Hybrid }

func (p *HybridProvider) HasCredentials() bool {
	return p.preferred.HasCredentials() || p.secondary.HasCredentials()
}

func (p *HybridProvider) Synthetic() bool { return true }

// Recognize implements Provider. Both sides always run to completion; it
// fails only when both sides fail.
func (p *HybridProvider) Recognize(ctx context.Context, req Request) (Response, error) {
	var (
		wg                sync.WaitGroup
		prefResp, secResp Response
		prefErr, secErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		prefResp, prefErr = p.preferred.Recognize(ctx, req)
	}()
	go func() {
		defer wg.Done()
		secResp, secErr = p.secondary.Recognize(ctx, req)
	}()
	wg.Wait()

	switch {
	case prefErr != nil && secErr != nil:
		return Response{}, fmt.Errorf("%s: %w", Hybrid, errors.Join(prefErr, secErr))
	case prefErr != nil:
		return secResp, nil
	case secErr != nil:
		return prefResp, nil
	}

	results := make([]Result, len(req.Images))
	for i := range results {
		results[i] = p.choose(at(prefResp.Results, i), at(secResp.Results, i))
	}
	usage := append(append([]Usage{}, prefResp.Usage...), secResp.Usage...)
	return Response{Results: results, Usage: usage}, nil
}

// choose reconciles two answers for one image.
func (p *HybridProvider) choose(pref, sec Result) Result {
	switch {
	case !pref.Found:
		return sec
	case !sec.Found:
		return pref
	case pref.Bib == sec.Bib:
		if sec.Confidence > pref.Confidence {
			return sec
		}
		return pref
	case math.Abs(pref.Confidence-sec.Confidence) < p.margin:
		return pref
	case sec.Confidence > pref.Confidence:
		return sec
	default:
		return pref
	}
}

func at(results []Result, i int) Result {
	if i < len(results) {
		return results[i]
	}
	return Result{}
}
