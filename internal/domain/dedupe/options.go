package dedupe

import "github.com/okian/dorsal/pkg/logger"

// DefaultMemorySize bounds the session memory when no size is configured.
const DefaultMemorySize = 50000

// Option applies a configuration option to the session memory.
type Option func(*sessionMemory)

// WithMaxSize sets the maximum number of keys kept in memory.
// maxSize <= 0 disables eviction.
func WithMaxSize(maxSize int) Option {
	return func(m *sessionMemory) {
		m.maxSize = maxSize
	}
}

// CheckerOption applies a configuration option to the Checker.
type CheckerOption func(*Checker)

// WithMemory sets the session memory used as the cross-poll fast path.
func WithMemory(mem Memory) CheckerOption {
	return func(c *Checker) {
		c.memory = mem
	}
}

// WithLogger sets a custom logger for the checker.
func WithLogger(l logger.Logger) CheckerOption {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}
