package repository

import (
	"time"

	"github.com/okian/dorsal/pkg/logger"
)

// Drivers understood by Open.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Option applies a configuration option to Open.
type Option func(*openOptions)

type openOptions struct {
	logger        logger.Logger
	autoMigrate   bool
	slowThreshold time.Duration
	now           func() time.Time
}

// WithLogger sets the logger for the store and its SQL tracing.
func WithLogger(l logger.Logger) Option {
	return func(o *openOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAutoMigrate creates or updates the schema on open.
func WithAutoMigrate(enabled bool) Option {
	return func(o *openOptions) {
		o.autoMigrate = enabled
	}
}

// WithSlowThreshold sets the duration above which queries are logged as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *openOptions) {
		if d > 0 {
			o.slowThreshold = d
		}
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *openOptions) {
		if now != nil {
			o.now = now
		}
	}
}
