package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.classificationsCreated.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_unit_classifications_created_total")
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording capture outcomes", func() {
			before := testutil.ToFloat64(globalManager.capturesTerminal.WithLabelValues("buffer", "discarded"))
			RecordCaptureTerminal("buffer", "discarded")
			RecordCaptureTerminal("buffer", "discarded")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.capturesTerminal.WithLabelValues("buffer", "discarded"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording provider attempts", func() {
			attempts := testutil.ToFloat64(globalManager.providerAttempts.WithLabelValues("gemini"))
			failures := testutil.ToFloat64(globalManager.providerFailures.WithLabelValues("gemini"))
			RecordProviderAttempt("gemini", 120, false)
			RecordProviderAttempt("gemini", 90, true)

			Convey("Then only failed attempts count as failures", func() {
				So(testutil.ToFloat64(globalManager.providerAttempts.WithLabelValues("gemini"))-attempts, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.providerFailures.WithLabelValues("gemini"))-failures, ShouldEqual, 1)
			})
		})

		Convey("When recording store operations", func() {
			before := testutil.ToFloat64(globalManager.storeErrors.WithLabelValues("insert_detection"))
			RecordStoreOperation("insert_detection", 3, nil)
			RecordStoreOperation("insert_detection", 5, errors.New("locked"))

			Convey("Then errors are counted separately", func() {
				So(testutil.ToFloat64(globalManager.storeErrors.WithLabelValues("insert_detection"))-before, ShouldEqual, 1)
			})
		})

		Convey("When updating gauges", func() {
			UpdateQueueSize(7)
			UpdateWorkerCount(3)

			Convey("Then the gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 3)
			})
		})

		Convey("When recording the remaining collectors", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordCaptureReverted()
					RecordPoll("buffer", 5, 0.2)
					RecordPollSkipped("buffer")
					RecordChainExhausted()
					RecordRecognitionCost("openai", "gpt-4o", 0.0012, 100, 20)
					RecordDetection("gemini")
					RecordClassification()
					RecordDuplicate("batch")
					RecordEventAutoStarted(2)
					AddWorkerBusy(1)
					AddWorkerBusy(-1)
					RecordHTTPRequest("/ranking", "GET", "200")
					RecordHTTPRequestDuration("/ranking", "GET", "200", 4)
					RecordErrorByComponent("pipeline", "persistence")
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(12)
					RecordSystemGCPauseTime(0.4)
				}, ShouldNotPanic)
				So(GetRegistry(), ShouldNotBeNil)
			})
		})
	})
}
