package poller

import "github.com/okian/dorsal/pkg/logger"

// Option applies a configuration option to the Poller.
type Option func(*Poller)

// WithLogger sets a custom logger for the poller.
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithImmediate runs the first poll on Start instead of after one interval.
func WithImmediate(enabled bool) Option {
	return func(p *Poller) {
		p.immediate = enabled
	}
}
