package recognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// CallMeta identifies what a recognition call was made for.
type CallMeta struct {
	EventID    string
	CaptureIDs []string
}

// UsageRecorder accounts for the usage of successful provider calls.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, usage Usage, meta CallMeta, took time.Duration)
}

// Attempt is one provider try within a chain run.
type Attempt struct {
	Provider string
	Took     time.Duration
	Err      error
}

// Outcome is the result of a successful chain run.
type Outcome struct {
	Provider string
	Results  []Result
	Attempts []Attempt
}

// Chain runs providers in order until one answers.
type Chain struct {
	providers map[string]Provider
	order     []string
	recorder  UsageRecorder
	logger    logger.Logger
}

// NewChain indexes providers by name. Later duplicates replace earlier ones.
func NewChain(providers []Provider, opts ...Option) *Chain {
	c := &Chain{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, ok := c.providers[p.Name()]; !ok {
			c.order = append(c.order, p.Name())
		}
		c.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("recognition")
	}
	return c
}

// Provider returns the named provider.
func (c *Chain) Provider(name string) (Provider, bool) {
	p, ok := c.providers[name]
	return p, ok
}

// Descriptors lists the known providers in priority order. Names in
// priority that are not registered are skipped; registered providers missing
// from priority are not eligible for fallback.
func (c *Chain) Descriptors(priority []string) []Descriptor {
	out := make([]Descriptor, 0, len(priority))
	for _, name := range priority {
		p, ok := c.providers[name]
		if !ok {
			continue
		}
		out = append(out, Descriptor{Name: name, HasCredentials: p.HasCredentials(), Synthetic: p.Synthetic()})
	}
	return out
}

// Plan returns the ordered provider names for primary.
func (c *Chain) Plan(primary string, priority []string) []string {
	return BuildChain(primary, c.Descriptors(priority))
}

// Run tries each named provider in order. The first provider that returns
// without error wins, even if it recognized nothing. When every provider
// fails the error wraps ErrAllProvidersFailed and the last failure.
func (c *Chain) Run(ctx context.Context, names []string, req Request, meta CallMeta) (Outcome, error) {
	if len(req.Images) == 0 {
		return Outcome{}, ErrEmptyBatch
	}
	if len(names) == 0 {
		return Outcome{}, fmt.Errorf("%w: empty chain", ErrAllProvidersFailed)
	}

	var (
		attempts []Attempt
		lastErr  error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: attempts}, err
		}

		p, ok := c.providers[name]
		if !ok {
			lastErr = fmt.Errorf("%w: %s", ErrUnknownProvider, name)
			attempts = append(attempts, Attempt{Provider: name, Err: lastErr})
			continue
		}

		start := time.Now()
		resp, err := p.Recognize(ctx, req)
		took := time.Since(start)
		metrics.RecordProviderAttempt(name, float64(took.Milliseconds()), err != nil)
		attempts = append(attempts, Attempt{Provider: name, Took: took, Err: err})

		if err != nil {
			lastErr = err
			c.logger.Warn(ctx, "provider failed, trying next",
				logger.String("provider", name),
				logger.String("event_id", meta.EventID),
				logger.Int("batch", len(req.Images)),
				logger.Duration("took", took),
				logger.Error(err),
			)
			continue
		}

		results := normalize(resp.Results, len(req.Images), name)
		if c.recorder != nil {
			for _, u := range resp.Usage {
				c.recorder.RecordUsage(ctx, u, meta, took)
			}
		}
		return Outcome{Provider: name, Results: results, Attempts: attempts}, nil
	}

	metrics.RecordChainExhausted()
	return Outcome{Attempts: attempts}, fmt.Errorf("%w (%s) - last error: %w",
		ErrAllProvidersFailed, strings.Join(names, " -> "), lastErr)
}

// normalize pads or trims results to n entries.
func normalize(results []Result, n int, provider string) []Result {
	out := make([]Result, n)
	copy(out, results)
	for i := range out {
		if out[i].Provider == "" {
			out[i].Provider = provider
		}
	}
	return out
}
