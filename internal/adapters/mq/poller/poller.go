// Package poller runs a unit of work on a fixed interval with at most one
// run in flight.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// ErrAlreadyStarted is returned by Start on a running poller.
var ErrAlreadyStarted = errors.New("poller already started")

// Func performs one poll and reports how many items it handled.
type Func func(ctx context.Context) (int, error)

// Poller ticks Func. A tick that fires while a run is in flight is skipped.
type Poller struct {
	name      string
	interval  time.Duration
	fn        Func
	immediate bool

	inFlight atomic.Bool
	started  atomic.Bool
	runs     sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// New creates a poller named name that calls fn every interval.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Poller {
	p := &Poller{
		name:     name,
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("poller." + name)
	}
	return p
}

// Start launches the ticker loop. It returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("poller %s: interval must be positive", p.name)
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go p.loop(ctx)
	p.logger.Info(ctx, "poller started", logger.Duration("interval", p.interval))
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if p.immediate {
		p.spawn(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		p.Tick(ctx)
	}()
}

// Tick runs one poll unless another is in flight. It reports whether it ran.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		metrics.RecordPollSkipped(p.name)
		p.logger.Debug(ctx, "previous poll still running, skipping")
		return false
	}
	defer p.inFlight.Store(false)

	start := time.Now()
	n, err := p.fn(ctx)
	took := time.Since(start)
	metrics.RecordPoll(p.name, n, took.Seconds())
	if err != nil {
		metrics.RecordErrorByComponent("poller", p.name)
		p.logger.Error(ctx, "poll failed",
			logger.Int("batch", n),
			logger.Duration("took", took),
			logger.Error(err),
		)
		return true
	}
	if n > 0 {
		p.logger.Debug(ctx, "poll done", logger.Int("batch", n), logger.Duration("took", took))
	}
	return true
}

// Name returns the loop name.
func (p *Poller) Name() string {
	return p.name
}

// InFlight reports whether a poll is running.
func (p *Poller) InFlight() bool {
	return p.inFlight.Load()
}

// Stop ends the loop and waits for the in-flight poll to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	if !p.started.Load() {
		return nil
	}

	finished := make(chan struct{})
	go func() {
		<-p.done
		p.runs.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info(ctx, "poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop poller %s: %w", p.name, ctx.Err())
	}
}
