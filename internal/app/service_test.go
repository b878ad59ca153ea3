package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/dorsal/internal/app"
	"github.com/okian/dorsal/internal/config"
	"github.com/okian/dorsal/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// testConfig polls fast against a private in-memory database.
func testConfig() *config.Config {
	cfg := config.New()
	cfg.Store.DSN = ":memory:"
	cfg.Store.CacheTTL = 0
	cfg.Buffer.Interval = 10 * time.Millisecond
	cfg.Device.Interval = 10 * time.Millisecond
	cfg.AutoStart.Interval = 10 * time.Millisecond
	cfg.Recognition.Priority = []string{"gemini"}
	cfg.Recognition.RatePerSecond = 0
	cfg.Recognition.Gemini.APIKey = "g-key"
	cfg.Recognition.Gemini.BaseURL = geminiURL
	return cfg
}

func TestService_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given a new service", t, func() {
		svc := service.New(testConfig())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When it has not been started", func() {
			Convey("Then stats report it stopped and reads are refused", func() {
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
				_, err := svc.Ranking(ctx, "ev")
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it reports its wiring", func() {
				stats := svc.GetStats(ctx)
				So(stats["started"], ShouldEqual, true)
				So(stats["processor"], ShouldEqual, "gemini")
				So(stats["chain"], ShouldResemble, []string{"gemini"})
				So(stats["polling"], ShouldHaveLength, 3)
				So(svc.Stop(ctx), ShouldBeNil)
			})

			Convey("Then it stops and can start again", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
				So(svc.Stop(ctx), ShouldBeNil)

				So(svc.Start(ctx), ShouldBeNil)
				So(svc.GetStats(ctx)["started"], ShouldEqual, true)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})
}

func TestService_StartFailure(t *testing.T) {
	Convey("Given a config with an unusable store", t, func() {
		cfg := testConfig()
		cfg.Store.Driver = "postgres"
		svc := service.New(cfg)

		Convey("Then Start fails and nothing runs", func() {
			err := svc.Start(context.Background())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "open store")
			So(svc.GetStats(context.Background())["started"], ShouldEqual, false)
		})
	})
}
