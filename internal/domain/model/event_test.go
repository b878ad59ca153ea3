package model_test

import (
	"testing"
	"time"

	model "github.com/okian/dorsal/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestStatus(t *testing.T) {
	convey.Convey("Given capture statuses", t, func() {
		convey.Convey("Then only the four end states are terminal", func() {
			convey.So(model.StatusPending.Terminal(), convey.ShouldBeFalse)
			convey.So(model.StatusProcessing.Terminal(), convey.ShouldBeFalse)
			convey.So(model.StatusProcessed.Terminal(), convey.ShouldBeTrue)
			convey.So(model.StatusError.Terminal(), convey.ShouldBeTrue)
			convey.So(model.StatusDiscarded.Terminal(), convey.ShouldBeTrue)
			convey.So(model.StatusManual.Terminal(), convey.ShouldBeTrue)
		})
	})
}

func TestCheckpointType(t *testing.T) {
	convey.Convey("Given checkpoint types", t, func() {
		convey.Convey("Then finish, final and unset close the race", func() {
			convey.So(model.CheckpointFinish.IsFinish(), convey.ShouldBeTrue)
			convey.So(model.CheckpointType("FINAL").IsFinish(), convey.ShouldBeTrue)
			convey.So(model.CheckpointType("").IsFinish(), convey.ShouldBeTrue)
		})

		convey.Convey("Then segment types do not", func() {
			convey.So(model.CheckpointIntermediate.IsFinish(), convey.ShouldBeFalse)
			convey.So(model.CheckpointLapCounter.IsFinish(), convey.ShouldBeFalse)
			convey.So(model.CheckpointRunningFinish.IsFinish(), convey.ShouldBeFalse)
		})

		convey.Convey("When a device has no mapping", func() {
			cp := model.DefaultCheckpoint("dev-1", "ev-1")

			convey.Convey("Then it defaults to the first checkpoint as finish", func() {
				convey.So(cp.CheckpointOrder, convey.ShouldEqual, 1)
				convey.So(cp.CheckpointType, convey.ShouldEqual, model.CheckpointFinish)
			})
		})
	})
}

func TestEventConfigMerge(t *testing.T) {
	convey.Convey("Given service defaults", t, func() {
		defaults := model.EventConfig{
			Processor:     "gemini",
			MinConfidence: 0.5,
			OpenAIModel:   "gpt-4o",
			GeminiModel:   "gemini-2.5-flash",
			DistanceKm:    10,
		}

		convey.Convey("When the event overrides some settings", func() {
			started := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
			ev := &model.Event{
				ID:         "ev-1",
				StartedAt:  &started,
				DistanceKm: 21.1,
				Recognition: model.EventRecognition{
					Processor:   "openai",
					OpenAIModel: "gpt-4o-mini",
				},
			}
			cfg := defaults.Merge(ev)

			convey.Convey("Then overrides win and the rest falls back", func() {
				convey.So(cfg.EventID, convey.ShouldEqual, "ev-1")
				convey.So(cfg.Processor, convey.ShouldEqual, "openai")
				convey.So(cfg.OpenAIModel, convey.ShouldEqual, "gpt-4o-mini")
				convey.So(cfg.GeminiModel, convey.ShouldEqual, "gemini-2.5-flash")
				convey.So(cfg.MinConfidence, convey.ShouldEqual, 0.5)
				convey.So(cfg.DistanceKm, convey.ShouldEqual, 21.1)
			})

			convey.Convey("Then the defaults are left untouched", func() {
				convey.So(defaults.Processor, convey.ShouldEqual, "gemini")
				convey.So(defaults.EventID, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the event routes to manual review", func() {
			cfg := defaults.Merge(&model.Event{ID: "ev-2", Recognition: model.EventRecognition{Processor: model.ProcessorManual}})

			convey.Convey("Then the config reports manual mode", func() {
				convey.So(cfg.Manual(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When no event is available", func() {
			convey.So(defaults.Merge(nil), convey.ShouldResemble, defaults)
		})
	})
}

func TestCaptureRecord(t *testing.T) {
	convey.Convey("Given capture records", t, func() {
		withImage := model.CaptureRecord{ImageData: "aGVsbG8=", DisplayImage: "https://cdn/x.jpg"}
		bare := model.CaptureRecord{ImageData: "aGVsbG8="}

		convey.So(withImage.HasImage(), convey.ShouldBeTrue)
		convey.So(withImage.ProofImage(), convey.ShouldEqual, "https://cdn/x.jpg")
		convey.So(bare.ProofImage(), convey.ShouldEqual, "aGVsbG8=")
		convey.So((&model.CaptureRecord{}).HasImage(), convey.ShouldBeFalse)
	})
}
