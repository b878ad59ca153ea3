package pipeline

import (
	"time"

	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/pkg/logger"
)

// Option applies a configuration option to a processor.
type Option func(*options)

type options struct {
	defaults model.EventConfig
	priority []string
	logger   logger.Logger
	now      func() time.Time
}

func newOptions(name string, opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named(name)
	}
	return o
}

// WithDefaults sets the service-wide recognition configuration that event
// overrides are merged onto.
func WithDefaults(cfg model.EventConfig) Option {
	return func(o *options) {
		o.defaults = cfg
	}
}

// WithPriority sets the provider fallback order.
func WithPriority(names []string) Option {
	return func(o *options) {
		o.priority = append([]string(nil), names...)
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
