// Package service wires the detection pipeline into a running process and
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/dorsal/internal/adapters/mq/poller"
	eventqueue "github.com/okian/dorsal/internal/adapters/mq/queue"
	workerpool "github.com/okian/dorsal/internal/adapters/mq/worker"
	"github.com/okian/dorsal/internal/adapters/repository"
	"github.com/okian/dorsal/internal/config"
	"github.com/okian/dorsal/internal/domain/cost"
	"github.com/okian/dorsal/internal/domain/dedupe"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/pipeline"
	"github.com/okian/dorsal/internal/domain/recognition"
	"github.com/okian/dorsal/internal/domain/timing"
	"github.com/okian/dorsal/internal/domain/types"
	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// Loop names, also used as metric labels.
const (
	LoopBuffer    = "buffer"
	LoopDevice    = "device"
	LoopAutoStart = "autostart"
)

// ErrNotStarted is returned by reads that need a running service.
var ErrNotStarted = errors.New("service not started")

// Service owns the store, the processors and their polling loops.
type Service struct {
	mu sync.RWMutex

	cfg        *config.Config
	store      repository.Store
	ownsStore  bool
	httpClient *http.Client

	cached  *repository.CachedStore
	memory  dedupe.Memory
	chain   *recognition.Chain
	buffer  *pipeline.BufferProcessor
	device  *pipeline.DeviceProcessor
	starter *pipeline.AutoStarter
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool
	pollers []*poller.Poller
	cancel  context.CancelFunc

	totals    map[string]*pipeline.Summary
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore uses s instead of opening the configured store. The caller keeps
// ownership and closes it.
func WithStore(s repository.Store) Option {
	return func(svc *Service) {
		svc.store = s
	}
}

// WithHTTPClient sets the client shared by the recognition providers.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg: cfg,
		totals: map[string]*pipeline.Summary{
			LoopBuffer: {},
			LoopDevice: {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start opens the store, builds the pipeline and launches the enabled loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting dorsal service...")

	cfg := s.cfg
	if s.store == nil {
		st, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN,
			repository.WithAutoMigrate(cfg.Store.AutoMigrate),
			repository.WithLogger(logger.Get().Named("store")),
		)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}
	s.cached = repository.NewCachedStore(s.store, cfg.Store.CacheTTL)

	s.memory = dedupe.NewMemory(dedupe.WithMaxSize(cfg.Dedupe.SessionMemory))
	checker := dedupe.NewChecker(s.cached, dedupe.WithMemory(s.memory))
	engine := timing.NewEngine(s.cached)
	s.chain = s.buildChain()

	s.buffer = pipeline.NewBufferProcessor(s.cached, s.chain, checker, engine,
		pipeline.WithDefaults(s.defaults()),
		pipeline.WithPriority(cfg.Recognition.Priority),
	)
	s.device = pipeline.NewDeviceProcessor(s.cached, checker, engine)
	s.starter = pipeline.NewAutoStarter(s.cached)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.Buffer.BatchSize))
	s.pool = workerpool.NewPool(cfg.Buffer.Workers, s.queue, s.buffer)
	s.pool.Start(runCtx)

	s.pollers = s.pollers[:0]
	if cfg.Buffer.Enabled {
		s.pollers = append(s.pollers, poller.New(LoopBuffer, cfg.Buffer.Interval, s.pollBuffer, poller.WithImmediate(true)))
	}
	if cfg.Device.Enabled {
		s.pollers = append(s.pollers, poller.New(LoopDevice, cfg.Device.Interval, s.pollDevice, poller.WithImmediate(true)))
	}
	if cfg.AutoStart.Enabled {
		s.pollers = append(s.pollers, poller.New(LoopAutoStart, cfg.AutoStart.Interval, s.starter.Run, poller.WithImmediate(true)))
	}
	for _, p := range s.pollers {
		if err := p.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start poller: %w", err)
		}
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "dorsal service started",
		logger.String("store", cfg.Store.Driver),
		logger.String("processor", cfg.Recognition.Processor),
		logger.Any("chain", s.chain.Plan(cfg.Recognition.Processor, cfg.Recognition.Priority)),
		logger.Int("workers", cfg.Buffer.Workers),
		logger.Int("loops", len(s.pollers)),
	)
	return nil
}

func (s *Service) buildChain() *recognition.Chain {
	rc := s.cfg.Recognition
	client := s.httpClient
	if client == nil {
		client = &http.Client{Timeout: rc.Timeout}
	}
	endpoint := func(p config.Provider) recognition.Endpoint {
		return recognition.Endpoint{APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL}
	}
	providers := recognition.NewProviders(recognition.Settings{
		Bibs:          recognition.Range{Min: rc.BibMin, Max: rc.BibMax},
		HybridMargin:  rc.HybridMargin,
		HTTPClient:    client,
		RatePerSecond: rc.RatePerSecond,
		Gemini:        endpoint(rc.Gemini),
		OpenAI:        endpoint(rc.OpenAI),
		DeepSeek:      endpoint(rc.DeepSeek),
		GoogleVision:  endpoint(rc.GoogleVision),
	})
	return recognition.NewChain(providers,
		recognition.WithUsageRecorder(cost.NewTracker(s.cached)),
	)
}

// defaults is the service-wide config event overrides are merged onto.
func (s *Service) defaults() model.EventConfig {
	rc := s.cfg.Recognition
	return model.EventConfig{
		Processor:     rc.Processor,
		MinConfidence: rc.MinConfidence,
		OpenAIModel:   rc.OpenAI.Model,
		GeminiModel:   rc.Gemini.Model,
		DistanceKm:    s.cfg.Timing.DefaultDistanceKm,
	}
}

func (s *Service) pollBuffer(ctx context.Context) (int, error) {
	groups, err := s.buffer.Fetch(ctx, s.cfg.Buffer.BatchSize)
	if err != nil || len(groups) == 0 {
		return 0, err
	}
	sum, err := s.pool.Process(ctx, groups)
	s.record(LoopBuffer, sum)
	return sum.Claimed, err
}

func (s *Service) pollDevice(ctx context.Context) (int, error) {
	sum, err := s.device.ProcessPending(ctx, s.cfg.Device.BatchSize)
	s.record(LoopDevice, sum)
	return sum.Claimed, err
}

func (s *Service) record(loop string, sum pipeline.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[loop].Add(sum)
}

// Stop halts the loops, waits for in-flight polls and releases the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	pollers, pool, cancel := s.pollers, s.pool, s.cancel
	s.started = false
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping dorsal service...")

	var errs []error
	for _, p := range pollers {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.logger.Info(ctx, "dorsal service stopped")
	return errors.Join(errs...)
}

// Ranking ranks the finishers of an event by best total time.
func (s *Service) Ranking(ctx context.Context, eventID string) (types.Ranking, error) {
	s.mu.RLock()
	store, started := s.cached, s.started
	s.mu.RUnlock()
	if !started {
		return types.Ranking{}, ErrNotStarted
	}

	cfg, err := store.GetEventConfig(ctx, eventID, s.defaults())
	if err != nil {
		return types.Ranking{}, fmt.Errorf("event config: %w", err)
	}
	cls, err := store.ListClassifications(ctx, eventID)
	if err != nil {
		return types.Ranking{}, fmt.Errorf("classifications: %w", err)
	}
	ranking := timing.Rank(cls, cfg.DistanceKm)
	ranking.EventID = eventID
	return ranking, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":   s.started,
		"processor": s.cfg.Recognition.Processor,
		"workers":   s.cfg.Buffer.Workers,
	}
	if !s.started {
		return stats
	}

	stats["uptime_seconds"] = int64(time.Since(s.startedAt).Seconds())
	stats["chain"] = s.chain.Plan(s.cfg.Recognition.Processor, s.cfg.Recognition.Priority)
	stats["queue_length"] = s.queue.Len()
	stats["session_memory"] = s.memory.Size()
	stats["cached_items"] = s.cached.CachedItems()
	stats[LoopBuffer] = *s.totals[LoopBuffer]
	stats[LoopDevice] = *s.totals[LoopDevice]

	polling := make(map[string]bool, len(s.pollers))
	for _, p := range s.pollers {
		polling[p.Name()] = p.InFlight()
	}
	stats["polling"] = polling

	if counts, err := s.cached.CountCapturesByStatus(ctx); err == nil {
		byStatus := make(map[string]int64, len(counts))
		for st, n := range counts {
			byStatus[string(st)] = n
		}
		stats["captures"] = byStatus
	} else {
		s.logger.Warn(ctx, "capture counts unavailable", logger.Error(err))
	}

	metrics.UpdateQueueSize(s.queue.Len())
	return stats
}
