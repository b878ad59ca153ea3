package cost_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/dorsal/internal/domain/cost"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/recognition"
	"github.com/okian/dorsal/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type recordingStore struct {
	records []*model.CostRecord
	err     error
}

func (s *recordingStore) InsertCostRecord(_ context.Context, rec *model.CostRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func TestTable(t *testing.T) {
	Convey("Given the default pricing", t, func() {
		table := cost.Table(cost.DefaultPricing)

		Convey("Then exact models are priced per million tokens", func() {
			So(table.Compute("gpt-4o", 1_000_000, 1_000_000), ShouldAlmostEqual, 12.5)
			So(table.Compute("deepseek-chat", 500_000, 0), ShouldAlmostEqual, 0.07)
		})

		Convey("Then unknown variants fall back to their family", func() {
			p, ok := table.Lookup("gpt-4o-2024-05-13")
			So(ok, ShouldBeTrue)
			So(p.Input, ShouldEqual, 2.5)
			p, ok = table.Lookup("gemini-2.5-flash-lite")
			So(ok, ShouldBeTrue)
			So(p.Output, ShouldEqual, 0.0003)
		})

		Convey("Then models of no known family are free", func() {
			So(table.Compute("text-detection", 1000, 1000), ShouldEqual, 0)
		})
	})
}

func TestTracker(t *testing.T) {
	Convey("Given a tracker over a store", t, func() {
		ctx := context.Background()
		store := &recordingStore{}
		fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
		tracker := cost.NewTracker(store, cost.WithClock(func() time.Time { return fixed }))
		meta := recognition.CallMeta{EventID: "ev-1", CaptureIDs: []string{"c1", "c2"}}

		Convey("When a priced call is recorded", func() {
			tracker.RecordUsage(ctx, recognition.Usage{Service: "openai", Model: "gpt-4o", InputTokens: 2000, OutputTokens: 10}, meta, 1500*time.Millisecond)

			Convey("Then a cost record is stored", func() {
				So(store.records, ShouldHaveLength, 1)
				rec := store.records[0]
				So(rec.ID, ShouldNotBeEmpty)
				So(rec.EventID, ShouldEqual, "ev-1")
				So(rec.BatchSize, ShouldEqual, 2)
				So(rec.TotalTokens, ShouldEqual, 2010)
				So(rec.DurationMS, ShouldEqual, 1500)
				So(rec.CostUSD, ShouldAlmostEqual, 0.0051)
				So(rec.CreatedAt, ShouldEqual, fixed)
			})
		})

		Convey("When a call costs nothing", func() {
			tracker.RecordUsage(ctx, recognition.Usage{Service: "ocr", Model: "local"}, meta, time.Millisecond)
			So(store.records, ShouldBeEmpty)
		})

		Convey("When the store fails", func() {
			store.err = errors.New("disk full")
			So(func() {
				tracker.RecordUsage(ctx, recognition.Usage{Service: "gemini", Model: "gemini-2.5-flash", InputTokens: 100}, meta, 0)
			}, ShouldNotPanic)
		})
	})
}
