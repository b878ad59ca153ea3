package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/dorsal/internal/adapters/repository"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/pipeline"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeviceProcessor(t *testing.T) {
	Convey("Given a started event with a registered finish device", t, func(c C) {
		ctx := context.Background()
		f := newFixture(c)
		f.event(c, started(t0))
		f.device(c, &model.CheckpointDevice{
			DeviceID: "phone", EventID: "ev", AccessCode: "ABC123",
			CheckpointOrder: 1, CheckpointType: model.CheckpointFinish, CheckpointName: "Chegada",
		})
		So(f.store.AddParticipant(ctx, &model.Participant{EventID: "ev", Bib: 42}), ShouldBeNil)
		proc := pipeline.NewDeviceProcessor(f.store, f.checker, f.engine)

		uploaded := 0
		upload := func(id, code string, n *int) {
			So(f.store.InsertDeviceDetection(ctx, &model.DeviceDetection{
				ID: id, AccessCode: code, SessionID: "s1", DecodedBib: n,
				ImageData: image, CapturedAt: t0.Add(time.Duration(125+uploaded) * time.Second),
			}), ShouldBeNil)
			uploaded++
		}
		result := func(id string) *model.DeviceDetection {
			d, err := f.store.GetDeviceDetection(ctx, id)
			So(err, ShouldBeNil)
			return d
		}

		Convey("When a registered bib is uploaded twice", func() {
			upload("d1", "ABC123", bib(42))
			upload("d2", "ABC123", bib(42))
			sum, err := proc.ProcessPending(ctx, 10)
			So(err, ShouldBeNil)
			So(sum.Processed, ShouldEqual, 2)

			Convey("Then the first is classified and the second ignored", func() {
				first := result("d1")
				So(first.Status, ShouldEqual, model.StatusProcessed)
				So(first.Result["action"], ShouldEqual, pipeline.ActionWithClassification)
				So(first.Result["total_time"], ShouldEqual, float64(125))
				So(first.Result["checkpoint_name"], ShouldEqual, "Chegada")
				So(first.Result["detection_id"], ShouldNotBeEmpty)

				So(result("d2").Result["action"], ShouldEqual, pipeline.ActionDuplicateIgnored)

				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldHaveLength, 2)
				So(dets[0].Method, ShouldEqual, "native_app")
				cls, _ := f.store.ListClassifications(ctx, "ev")
				So(cls, ShouldHaveLength, 1)
				So(*cls[0].TotalTime, ShouldEqual, 125)
			})
		})

		Convey("When the detection write fails once", func() {
			flaky := &flakyStore{GormStore: f.store, failRecord: 1}
			proc := pipeline.NewDeviceProcessor(flaky, f.checker, f.engine)
			upload("d1", "ABC123", bib(42))

			sum, err := proc.ProcessPending(ctx, 10)
			So(errors.Is(err, pipeline.ErrPersistence), ShouldBeTrue)
			So(sum.Reverted, ShouldEqual, 1)
			So(result("d1").Status, ShouldEqual, model.StatusPending)

			Convey("Then nothing is left behind by the failed attempt", func() {
				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldBeEmpty)
			})

			Convey("Then the retry records exactly one detection and classification", func() {
				sum, err := proc.ProcessPending(ctx, 10)
				So(err, ShouldBeNil)
				So(sum.Processed, ShouldEqual, 1)

				d := result("d1")
				So(d.Result["action"], ShouldEqual, pipeline.ActionWithClassification)
				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldHaveLength, 1)
				cls, _ := f.store.ListClassifications(ctx, "ev")
				So(cls, ShouldHaveLength, 1)
				So(cls[0].DetectionID, ShouldEqual, dets[0].ID)
				So(d.Result["detection_id"], ShouldEqual, dets[0].ID)
			})
		})

		Convey("When the processed mark cannot be written", func() {
			stuck := &markFailStore{GormStore: f.store}
			proc := pipeline.NewDeviceProcessor(stuck, f.checker, f.engine)
			upload("d1", "ABC123", bib(42))

			sum, err := proc.ProcessPending(ctx, 10)

			Convey("Then it is counted as an error, not a revert", func() {
				So(errors.Is(err, pipeline.ErrPersistence), ShouldBeTrue)
				So(sum.Errors, ShouldEqual, 1)
				So(sum.Reverted, ShouldEqual, 0)
				So(sum.Processed, ShouldEqual, 0)
				So(result("d1").Status, ShouldEqual, model.StatusProcessing)

				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldHaveLength, 1)
			})
		})

		Convey("When the bib is not a participant", func() {
			upload("d1", "ABC123", bib(77))
			_, err := proc.ProcessPending(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then a detection is stored without classification", func() {
				So(result("d1").Result["action"], ShouldEqual, pipeline.ActionNoParticipant)
				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldHaveLength, 1)
				cls, _ := f.store.ListClassifications(ctx, "ev")
				So(cls, ShouldBeEmpty)
			})
		})

		Convey("When no bib was decoded on the device", func() {
			upload("d1", "ABC123", nil)
			_, err := proc.ProcessPending(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then the image is queued for recognition", func() {
				d := result("d1")
				So(d.Result["action"], ShouldEqual, pipeline.ActionSentToBuffer)

				rec, err := f.store.GetCapture(ctx, d.Result["capture_id"].(string))
				So(err, ShouldBeNil)
				So(rec.Status, ShouldEqual, model.StatusPending)
				So(rec.DeviceID, ShouldEqual, "phone")
				So(rec.EventID, ShouldEqual, "ev")
			})
		})

		Convey("When the access code is unknown", func() {
			upload("d1", "NOPE", bib(42))
			sum, err := proc.ProcessPending(ctx, 10)
			So(err, ShouldBeNil)
			So(sum.Errors, ShouldEqual, 1)

			Convey("Then the record errors without retry", func() {
				d := result("d1")
				So(d.Status, ShouldEqual, model.StatusError)
				So(d.Error, ShouldContainSubstring, pipeline.ErrDeviceNotRegistered.Error())
			})
		})

		Convey("When the event is not active", func() {
			f.event(c, &model.Event{ID: "ev", Status: "finished", StartedAt: &t0})
			_, err := proc.Process(ctx, &model.DeviceDetection{AccessCode: "ABC123", DecodedBib: bib(42)})

			Convey("Then the detection is rejected", func() {
				So(errors.Is(err, pipeline.ErrEventNotActive), ShouldBeTrue)
				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldBeEmpty)
			})
		})
	})
}

// markFailStore refuses to mark device detections processed.
type markFailStore struct {
	*repository.GormStore
}

func (m *markFailStore) MarkDeviceDetection(ctx context.Context, id string, status model.Status, result model.Result, errMsg string) error {
	if status == model.StatusProcessed {
		return errors.New("read-only transaction")
	}
	return m.GormStore.MarkDeviceDetection(ctx, id, status, result, errMsg)
}

type fakeStarter struct {
	ids []string
	err error
	at  time.Time
}

func (f *fakeStarter) StartDueEvents(_ context.Context, now time.Time) ([]string, error) {
	f.at = now
	return f.ids, f.err
}

func TestAutoStarter(t *testing.T) {
	Convey("Given a starter with a fixed clock", t, func() {
		store := &fakeStarter{ids: []string{"ev-1", "ev-2"}}
		starter := pipeline.NewAutoStarter(store, pipeline.WithClock(func() time.Time { return t0 }))

		Convey("It starts every due event", func() {
			n, err := starter.Run(context.Background())
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
			So(store.at.Equal(t0), ShouldBeTrue)
		})

		Convey("It surfaces store failures", func() {
			store.err = errors.New("locked")
			_, err := starter.Run(context.Background())
			So(errors.Is(err, pipeline.ErrPersistence), ShouldBeTrue)
		})
	})
}
