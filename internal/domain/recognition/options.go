package recognition

import "github.com/okian/dorsal/pkg/logger"

// Option applies a configuration option to the Chain.
type Option func(*Chain)

// WithUsageRecorder sets the collaborator that accounts provider usage.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Chain) {
		c.recorder = r
	}
}

// WithLogger sets a custom logger for the chain.
func WithLogger(l logger.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}
