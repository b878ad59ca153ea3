package pipeline

import (
	"context"
	"fmt"

	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// AutoStarter activates events whose scheduled start has passed.
type AutoStarter struct {
	store  EventStarter
	opts   options
	logger logger.Logger
}

// NewAutoStarter builds a starter over store.
func NewAutoStarter(store EventStarter, opts ...Option) *AutoStarter {
	o := newOptions("autostart", opts)
	return &AutoStarter{store: store, opts: o, logger: o.logger}
}

// Run starts every due event and returns how many were started.
func (a *AutoStarter) Run(ctx context.Context) (int, error) {
	ids, err := a.store.StartDueEvents(ctx, a.opts.now().UTC())
	if err != nil {
		metrics.RecordErrorByComponent("autostart", "store")
		return 0, fmt.Errorf("%w: start due events: %w", ErrPersistence, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	metrics.RecordEventAutoStarted(len(ids))
	for _, id := range ids {
		a.logger.Info(ctx, "event auto-started", logger.String("event_id", id))
	}
	return len(ids), nil
}
