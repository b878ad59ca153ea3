package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/dorsal/internal/domain/dedupe"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/pipeline"
	"github.com/okian/dorsal/internal/domain/recognition"
	. "github.com/smartystreets/goconvey/convey"
)

func drain(ctx context.Context, c C, proc *pipeline.BufferProcessor) (pipeline.Summary, error) {
	groups, err := proc.Fetch(ctx, 10)
	c.So(err, ShouldBeNil)
	var (
		sum  pipeline.Summary
		errs []error
	)
	for _, g := range groups {
		s, err := proc.ProcessGroup(ctx, g)
		sum.Add(s)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return sum, errors.Join(errs...)
}

func TestBufferProcessor(t *testing.T) {
	Convey("Given a started event with a finish camera", t, func(c C) {
		ctx := context.Background()
		f := newFixture(c)
		f.event(c, started(t0))
		f.device(c, &model.CheckpointDevice{
			DeviceID: "cam", EventID: "ev", CheckpointOrder: 1,
			CheckpointType: model.CheckpointFinish, CheckpointName: "Chegada",
		})

		gemini := &scripted{name: "gemini", bib: 42, conf: 0.95}
		spy := &usageSpy{}
		chain := recognition.NewChain([]recognition.Provider{gemini}, recognition.WithUsageRecorder(spy))
		newProc := func(checker *dedupe.Checker) *pipeline.BufferProcessor {
			return pipeline.NewBufferProcessor(f.store, chain, checker, f.engine,
				pipeline.WithDefaults(model.EventConfig{Processor: "gemini"}),
				pipeline.WithPriority([]string{"gemini"}),
			)
		}
		proc := newProc(f.checker)

		Convey("When three captures of bib 42 arrive in one batch", func() {
			f.capture(c, "c3", t0.Add(127*time.Second))
			f.capture(c, "c1", t0.Add(125*time.Second))
			f.capture(c, "c2", t0.Add(126*time.Second))

			groups, err := proc.Fetch(ctx, 10)
			So(err, ShouldBeNil)
			So(groups, ShouldHaveLength, 1)
			So(groups[0].Config.EventID, ShouldEqual, "ev")

			sum, err := proc.ProcessGroup(ctx, groups[0])
			So(err, ShouldBeNil)

			Convey("Then the earliest wins and the rest are discarded", func() {
				So(sum.Claimed, ShouldEqual, 3)
				So(sum.Processed, ShouldEqual, 1)
				So(sum.Discarded, ShouldEqual, 2)

				winner := f.status(c, "c1")
				So(winner.Status, ShouldEqual, model.StatusProcessed)
				So(winner.Result["number_detected"], ShouldEqual, float64(42))
				So(winner.Result["provider"], ShouldEqual, "gemini")
				So(winner.Result["checkpoint_name"], ShouldEqual, "Chegada")
				So(winner.Result["total_time"], ShouldEqual, float64(125))

				for _, id := range []string{"c2", "c3"} {
					rec := f.status(c, id)
					So(rec.Status, ShouldEqual, model.StatusDiscarded)
					So(rec.Result["reason"], ShouldEqual, "duplicate")
					So(rec.Result["duplicate_of"], ShouldEqual, "c1")
					So(rec.Result["layer"], ShouldEqual, "batch")
				}
			})

			Convey("Then exactly one detection and classification exist", func() {
				dets, err := f.store.ListDetections(ctx, "ev")
				So(err, ShouldBeNil)
				So(dets, ShouldHaveLength, 1)
				So(dets[0].Method, ShouldEqual, "gemini")
				So(dets[0].DeviceType, ShouldEqual, "camera")

				cls, err := f.store.ListClassifications(ctx, "ev")
				So(err, ShouldBeNil)
				So(cls, ShouldHaveLength, 1)
				So(*cls[0].TotalTime, ShouldEqual, 125)
				So(*cls[0].SplitTime, ShouldEqual, 125)
				So(cls[0].DetectionID, ShouldEqual, dets[0].ID)
				So(spy.services, ShouldResemble, []string{"gemini"})
			})

			Convey("Then reprocessing the same group claims nothing", func() {
				again, err := proc.ProcessGroup(ctx, groups[0])
				So(err, ShouldBeNil)
				So(again.Claimed, ShouldEqual, 0)
				So(gemini.calls, ShouldEqual, 1)

				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldHaveLength, 1)
			})

			Convey("Then a later sighting is discarded by the session memory", func() {
				f.capture(c, "c4", t0.Add(200*time.Second))
				sum, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)
				So(sum.Discarded, ShouldEqual, 1)

				rec := f.status(c, "c4")
				So(rec.Result["layer"], ShouldEqual, "session")
				So(rec.Result["duplicate_of"], ShouldEqual, f.status(c, "c1").Result["detection_id"])
			})

			Convey("Then after a restart the store still rejects the sighting", func() {
				f.capture(c, "c4", t0.Add(200*time.Second))
				_, err := drain(ctx, c, newProc(dedupe.NewChecker(f.store)))
				So(err, ShouldBeNil)

				rec := f.status(c, "c4")
				So(rec.Status, ShouldEqual, model.StatusDiscarded)
				So(rec.Result["layer"], ShouldEqual, "persisted")
				So(rec.Result["duplicate_of"], ShouldEqual, f.status(c, "c1").Result["detection_id"])

				cls, _ := f.store.ListClassifications(ctx, "ev")
				So(cls, ShouldHaveLength, 1)
			})
		})

		Convey("When the primary provider fails", func() {
			gemini.err = errors.New("quota exceeded")
			openai := &scripted{name: "openai", bib: 7, conf: 0.9}
			chain := recognition.NewChain([]recognition.Provider{gemini, openai}, recognition.WithUsageRecorder(spy))
			proc := pipeline.NewBufferProcessor(f.store, chain, f.checker, f.engine,
				pipeline.WithDefaults(model.EventConfig{Processor: "gemini"}),
				pipeline.WithPriority([]string{"gemini", "openai"}),
			)
			f.capture(c, "c1", t0.Add(90*time.Second))

			Convey("Then the fallback result is used and only it is costed", func() {
				sum, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)
				So(sum.Processed, ShouldEqual, 1)

				rec := f.status(c, "c1")
				So(rec.Result["provider"], ShouldEqual, "openai")
				So(rec.Result["number_detected"], ShouldEqual, float64(7))
				So(gemini.calls, ShouldEqual, 1)
				So(spy.services, ShouldResemble, []string{"openai"})

				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldHaveLength, 1)
				So(dets[0].Bib, ShouldEqual, 7)
			})

			Convey("Then every record errors when the fallback fails too", func() {
				openai.err = errors.New("timeout")
				f.capture(c, "c2", t0.Add(91*time.Second))

				sum, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)
				So(sum.Errors, ShouldEqual, 2)
				for _, id := range []string{"c1", "c2"} {
					rec := f.status(c, id)
					So(rec.Status, ShouldEqual, model.StatusError)
					So(rec.Result["error"], ShouldContainSubstring, recognition.ErrAllProvidersFailed.Error())
					So(rec.Result["error"], ShouldContainSubstring, "timeout")
				}
			})
		})

		Convey("When the event is in manual mode", func() {
			f.event(c, &model.Event{
				ID: "ev", Status: model.EventStatusActive, StartedAt: &t0,
				Recognition: model.EventRecognition{Processor: model.ProcessorManual},
			})
			f.capture(c, "c1", t0.Add(time.Minute))

			Convey("Then captures are routed to review without recognition", func() {
				sum, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)
				So(sum.Manual, ShouldEqual, 1)
				So(gemini.calls, ShouldEqual, 0)

				rec := f.status(c, "c1")
				So(rec.Status, ShouldEqual, model.StatusManual)
				So(rec.Result["routed"], ShouldEqual, "manual_review")
			})
		})

		Convey("When nothing usable is recognized", func() {
			f.capture(c, "c1", t0.Add(time.Minute))

			Convey("Then an empty answer is processed without a detection", func() {
				gemini.bib = 0
				_, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)

				rec := f.status(c, "c1")
				So(rec.Status, ShouldEqual, model.StatusProcessed)
				So(rec.Result["no_detection"], ShouldEqual, true)
				dets, _ := f.store.ListDetections(ctx, "ev")
				So(dets, ShouldBeEmpty)
			})

			Convey("Then a low confidence answer is ignored", func() {
				gemini.conf = 0.3
				f.event(c, &model.Event{
					ID: "ev", Status: model.EventStatusActive, StartedAt: &t0,
					Recognition: model.EventRecognition{MinConfidence: 0.5},
				})
				_, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)

				rec := f.status(c, "c1")
				So(rec.Status, ShouldEqual, model.StatusProcessed)
				So(rec.Result["reason"], ShouldEqual, "low_confidence")
				So(rec.Result["number"], ShouldEqual, float64(42))
			})
		})

		Convey("When records cannot be decoded", func() {
			So(f.store.InsertCapture(ctx, &model.CaptureRecord{
				ID: "bad", EventID: "ev", DeviceID: "cam", ImageData: "%%%", CapturedAt: t0.Add(time.Minute),
			}), ShouldBeNil)
			So(f.store.InsertCapture(ctx, &model.CaptureRecord{
				ID: "empty", EventID: "ev", DeviceID: "cam", CapturedAt: t0.Add(2 * time.Minute),
			}), ShouldBeNil)
			So(f.store.InsertCapture(ctx, &model.CaptureRecord{
				ID: "pre", EventID: "ev", DeviceID: "cam", DecodedBib: bib(5), CapturedAt: t0.Add(3 * time.Minute),
			}), ShouldBeNil)

			Convey("Then they error while pre-decoded records pass through", func() {
				sum, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)
				So(sum.Errors, ShouldEqual, 2)
				So(sum.Processed, ShouldEqual, 1)
				So(gemini.calls, ShouldEqual, 0)

				So(f.status(c, "bad").Status, ShouldEqual, model.StatusError)
				So(f.status(c, "empty").Result["error"], ShouldEqual, pipeline.ErrNoPayload.Error())

				pre := f.status(c, "pre")
				So(pre.Status, ShouldEqual, model.StatusProcessed)
				So(pre.Result["provider"], ShouldEqual, "pre_decoded")
				So(pre.Result["total_time"], ShouldEqual, float64(180))
			})
		})

		Convey("When a detection cannot be written", func() {
			flaky := &flakyStore{GormStore: f.store, failRecord: 1}
			proc := pipeline.NewBufferProcessor(flaky, chain, f.checker, f.engine,
				pipeline.WithDefaults(model.EventConfig{Processor: "gemini"}),
			)
			f.capture(c, "c1", t0.Add(time.Minute))

			sum, err := drain(ctx, c, proc)

			Convey("Then the record is reverted and the failure surfaced", func() {
				So(errors.Is(err, pipeline.ErrPersistence), ShouldBeTrue)
				So(sum.Reverted, ShouldEqual, 1)

				rec := f.status(c, "c1")
				So(rec.Status, ShouldEqual, model.StatusPending)
				So(rec.Result["last_error"], ShouldContainSubstring, "disk full")
			})

			Convey("Then the next poll processes it", func() {
				sum, err := drain(ctx, c, proc)
				So(err, ShouldBeNil)
				So(sum.Processed, ShouldEqual, 1)
				So(f.status(c, "c1").Status, ShouldEqual, model.StatusProcessed)
			})
		})
	})

	Convey("Given an event that has not started", t, func(c C) {
		ctx := context.Background()
		f := newFixture(c)
		f.event(c, &model.Event{ID: "ev", Status: "scheduled"})
		gemini := &scripted{name: "gemini", bib: 42, conf: 0.9}
		proc := pipeline.NewBufferProcessor(f.store, recognition.NewChain([]recognition.Provider{gemini}), f.checker, f.engine,
			pipeline.WithDefaults(model.EventConfig{Processor: "gemini"}),
		)

		Convey("When an unmapped camera sees a bib", func() {
			f.capture(c, "c1", t0.Add(time.Minute))
			_, err := drain(ctx, c, proc)
			So(err, ShouldBeNil)

			Convey("Then the classification has no timing at the default checkpoint", func() {
				cls, err := f.store.ListClassifications(ctx, "ev")
				So(err, ShouldBeNil)
				So(cls, ShouldHaveLength, 1)
				So(cls[0].CheckpointOrder, ShouldEqual, 1)
				So(cls[0].TotalTime, ShouldBeNil)
				So(cls[0].SplitTime, ShouldBeNil)
				So(f.status(c, "c1").Result["total_time"], ShouldBeNil)
			})
		})
	})

	Convey("Given an intermediate checkpoint after the first", t, func(c C) {
		ctx := context.Background()
		f := newFixture(c)
		f.event(c, started(t0))
		f.device(c, &model.CheckpointDevice{
			DeviceID: "cam", EventID: "ev", CheckpointOrder: 2, CheckpointType: model.CheckpointIntermediate,
		})
		So(f.store.InsertClassification(ctx, &model.Classification{
			EventID: "ev", Bib: 42, DeviceID: "other", CheckpointOrder: 1,
			CheckpointTime: t0.Add(60 * time.Second), DetectionID: "det-1",
		}), ShouldBeNil)
		proc := pipeline.NewBufferProcessor(f.store,
			recognition.NewChain([]recognition.Provider{&scripted{name: "gemini", bib: 42, conf: 0.9}}),
			f.checker, f.engine,
			pipeline.WithDefaults(model.EventConfig{Processor: "gemini"}),
		)

		Convey("When the athlete passes it", func() {
			f.capture(c, "c1", t0.Add(180*time.Second))
			_, err := drain(ctx, c, proc)
			So(err, ShouldBeNil)

			Convey("Then only the split since the previous checkpoint is set", func() {
				cls, err := f.store.ListClassifications(ctx, "ev")
				So(err, ShouldBeNil)
				So(cls, ShouldHaveLength, 2)
				So(cls[1].CheckpointOrder, ShouldEqual, 2)
				So(cls[1].TotalTime, ShouldBeNil)
				So(*cls[1].SplitTime, ShouldEqual, 120)
			})
		})
	})
}
