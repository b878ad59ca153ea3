package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/dorsal/internal/adapters/repository"
	"github.com/okian/dorsal/internal/domain/dedupe"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/recognition"
	"github.com/okian/dorsal/internal/domain/timing"
	"github.com/okian/dorsal/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var t0 = time.Date(2025, 9, 14, 8, 0, 0, 0, time.UTC)

const image = "aGVsbG8="

// scripted answers every image with the same bib, or fails.
type scripted struct {
	name  string
	bib   int
	conf  float64
	err   error
	calls int
}

func (s *scripted) Name() string         { return s.name }
func (s *scripted) HasCredentials() bool { return true }
func (s *scripted) Synthetic() bool      { return false }

func (s *scripted) Recognize(_ context.Context, req recognition.Request) (recognition.Response, error) {
	s.calls++
	if s.err != nil {
		return recognition.Response{}, s.err
	}
	out := make([]recognition.Result, len(req.Images))
	for i := range out {
		if s.bib > 0 {
			out[i] = recognition.Result{Found: true, Bib: s.bib, Confidence: s.conf}
		}
	}
	return recognition.Response{
		Results: out,
		Usage:   []recognition.Usage{{Service: s.name, Model: "m", InputTokens: 100, OutputTokens: 10}},
	}, nil
}

type usageSpy struct {
	mu       sync.Mutex
	services []string
}

func (u *usageSpy) RecordUsage(_ context.Context, usage recognition.Usage, _ recognition.CallMeta, _ time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.services = append(u.services, usage.Service)
}

// flakyStore fails the next n detection writes.
type flakyStore struct {
	*repository.GormStore
	failRecord int
}

func (f *flakyStore) RecordDetection(ctx context.Context, det *model.Detection, cls *model.Classification) error {
	if f.failRecord > 0 {
		f.failRecord--
		return errors.New("disk full")
	}
	return f.GormStore.RecordDetection(ctx, det, cls)
}

type fixture struct {
	store   *repository.GormStore
	checker *dedupe.Checker
	engine  *timing.Engine
}

func newFixture(c C) *fixture {
	s, err := repository.Open(context.Background(), repository.DriverSQLite, ":memory:",
		repository.WithAutoMigrate(true),
		repository.WithClock(func() time.Time { return t0.Add(time.Hour) }),
	)
	c.So(err, ShouldBeNil)
	Reset(func() { _ = s.Close() })
	return &fixture{
		store:   s,
		checker: dedupe.NewChecker(s),
		engine:  timing.NewEngine(s),
	}
}

func (f *fixture) event(c C, ev *model.Event) {
	c.So(f.store.UpsertEvent(context.Background(), ev), ShouldBeNil)
}

func (f *fixture) device(c C, dev *model.CheckpointDevice) {
	c.So(f.store.UpsertCheckpointDevice(context.Background(), dev), ShouldBeNil)
}

func (f *fixture) capture(c C, id string, at time.Time) {
	c.So(f.store.InsertCapture(context.Background(), &model.CaptureRecord{
		ID:         id,
		EventID:    "ev",
		DeviceID:   "cam",
		SessionID:  "s1",
		ImageData:  image,
		CapturedAt: at,
	}), ShouldBeNil)
}

func (f *fixture) status(c C, id string) *model.CaptureRecord {
	rec, err := f.store.GetCapture(context.Background(), id)
	c.So(err, ShouldBeNil)
	return rec
}

func started(at time.Time) *model.Event {
	return &model.Event{ID: "ev", Status: model.EventStatusActive, IsActive: true, StartedAt: &at}
}

func bib(n int) *int { return &n }
