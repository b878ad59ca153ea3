// Package worker processes event groups off the queue with a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/dorsal/internal/adapters/mq/queue"
	"github.com/okian/dorsal/internal/domain/pipeline"
	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Processor handles one event group.
type Processor interface {
	ProcessGroup(ctx context.Context, g pipeline.Group) (pipeline.Summary, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker over a Queue.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown signals the worker and waits for it to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	metrics.AddWorkerBusy(1)
	defer metrics.AddWorkerBusy(-1)

	start := time.Now()
	eventID := job.Group.Config.EventID
	sum, err := w.processor.ProcessGroup(ctx, job.Group)
	if err != nil {
		metrics.RecordErrorByComponent("worker", "group")
		w.logger.Error(ctx, "event group failed",
			logger.String("event_id", eventID),
			logger.Int("reverted", sum.Reverted),
			logger.Error(err),
		)
	} else {
		w.logger.Debug(ctx, "event group done",
			logger.String("event_id", eventID),
			logger.Int("claimed", sum.Claimed),
			logger.Duration("took", time.Since(start)),
		)
	}

	if job.Reply != nil {
		job.Reply <- queue.Outcome{EventID: eventID, Summary: sum, Err: err}
	}
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   queue.Queue

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. Counts below one mean one
// worker, which processes groups sequentially.
func NewPool(workerCount int, q queue.Queue, p Processor) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		pool.workers[i] = NewInMemoryWorker(q, p, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Process hands every group to the pool and waits until all of them finish.
// Groups the queue rejects are reported as errors and left untouched.
func (p *Pool) Process(ctx context.Context, groups []pipeline.Group) (pipeline.Summary, error) {
	var (
		sum     pipeline.Summary
		errs    []error
		pending int
		reply   = make(chan queue.Outcome, len(groups))
	)
	for _, g := range groups {
		if err := p.queue.Enqueue(ctx, queue.Job{Group: g, Reply: reply}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue event %s: %w", g.Config.EventID, err))
			continue
		}
		pending++
	}

	for ; pending > 0; pending-- {
		select {
		case o := <-reply:
			sum.Add(o.Summary)
			if o.Err != nil {
				errs = append(errs, o.Err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return sum, errors.Join(errs...)
		}
	}
	return sum, errors.Join(errs...)
}

// Shutdown closes the queue and waits for the workers to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
