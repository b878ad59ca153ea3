// Package cost accounts for the money spent on recognition calls.
package cost

import "strings"

// Price is USD per one million tokens.
type Price struct {
	Input  float64
	Output float64
}

var (
	flashPrice    = Price{Input: 0.000075, Output: 0.0003}
	proPrice      = Price{Input: 0.00125, Output: 0.005}
	ultraPrice    = Price{Input: 0.0025, Output: 0.01}
	deepseekChat  = Price{Input: 0.14, Output: 0.28}
	deepseekReasn = Price{Input: 0.55, Output: 2.19}
)

// DefaultPricing covers the models the providers use.
var DefaultPricing = map[string]Price{
	"gemini-1.5-flash": flashPrice,
	"gemini-2.0-flash": flashPrice,
	"gemini-2.5-flash": flashPrice,
	"gemini-1.5-pro":   proPrice,
	"gemini-ultra":     ultraPrice,

	"gpt-4o":      {Input: 2.5, Output: 10},
	"gpt-4o-mini": {Input: 0.15, Output: 0.6},
	"gpt-4-turbo": {Input: 10, Output: 30},
	"gpt-4":       {Input: 30, Output: 60},

	"deepseek-chat":     deepseekChat,
	"deepseek-reasoner": deepseekReasn,
}

// Table resolves model prices.
type Table map[string]Price

// Lookup returns the price for model. Unknown models fall back by family;
// models of no known family are free.
func (t Table) Lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "deepseek-reasoner"):
		return deepseekReasn, true
	case strings.Contains(m, "deepseek"):
		return deepseekChat, true
	case strings.HasPrefix(m, "gpt-4o-mini"):
		return t["gpt-4o-mini"], true
	case strings.HasPrefix(m, "gpt-4o"):
		return t["gpt-4o"], true
	case strings.HasPrefix(m, "gemini") && strings.Contains(m, "flash"):
		return flashPrice, true
	case strings.HasPrefix(m, "gemini") && strings.Contains(m, "pro"):
		return proPrice, true
	case strings.HasPrefix(m, "gemini") && strings.Contains(m, "ultra"):
		return ultraPrice, true
	}
	return Price{}, false
}

// Compute returns the USD cost of a call.
func (t Table) Compute(model string, inputTokens, outputTokens int) float64 {
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}
