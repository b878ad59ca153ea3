package cost

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/recognition"
	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// Store persists cost records.
type Store interface {
	InsertCostRecord(ctx context.Context, rec *model.CostRecord) error
}

// Tracker turns provider usage into cost records. It implements
// recognition.UsageRecorder.
type Tracker struct {
	store   Store
	pricing Table
	logger  logger.Logger
	now     func() time.Time
}

var _ recognition.UsageRecorder = (*Tracker)(nil)

// NewTracker creates a tracker over store with the default pricing.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, pricing: DefaultPricing, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Get().Named("cost")
	}
	return t
}

// RecordUsage implements recognition.UsageRecorder. Calls that cost nothing
// are not stored. Storage failures are logged; cost accounting never fails a
// recognition.
func (t *Tracker) RecordUsage(ctx context.Context, u recognition.Usage, meta recognition.CallMeta, took time.Duration) {
	usd := t.pricing.Compute(u.Model, u.InputTokens, u.OutputTokens)
	if usd <= 0 {
		t.logger.Debug(ctx, "zero cost call, not recorded",
			logger.String("service", u.Service),
			logger.String("model", u.Model),
		)
		return
	}
	metrics.RecordRecognitionCost(u.Service, u.Model, usd, u.InputTokens, u.OutputTokens)

	rec := &model.CostRecord{
		ID:           uuid.NewString(),
		Service:      u.Service,
		Model:        u.Model,
		EventID:      meta.EventID,
		CaptureIDs:   meta.CaptureIDs,
		BatchSize:    len(meta.CaptureIDs),
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
		CostUSD:      usd,
		DurationMS:   took.Milliseconds(),
		CreatedAt:    t.now().UTC(),
	}
	if err := t.store.InsertCostRecord(ctx, rec); err != nil {
		t.logger.Error(ctx, "failed to store cost record",
			logger.String("service", u.Service),
			logger.String("event_id", meta.EventID),
			logger.Error(err),
		)
	}
}
