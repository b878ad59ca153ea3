package cost

import (
	"time"

	"github.com/okian/dorsal/pkg/logger"
)

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithPricing replaces the pricing table.
func WithPricing(t Table) Option {
	return func(tr *Tracker) {
		if t != nil {
			tr.pricing = t
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(tr *Tracker) {
		if l != nil {
			tr.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(tr *Tracker) {
		if now != nil {
			tr.now = now
		}
	}
}
