package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/dorsal/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Buffer.BatchSize, convey.ShouldEqual, 5)
				convey.So(cfg.Recognition.Processor, convey.ShouldEqual, "gemini")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("DORSAL_ADDR", ":8080")
			t.Setenv("DORSAL_BUFFER__BATCH_SIZE", "12")
			t.Setenv("DORSAL_BUFFER__INTERVAL", "3s")
			t.Setenv("DORSAL_RECOGNITION__OPENAI__API_KEY", "sk-test")
			t.Setenv("DORSAL_RECOGNITION__PRIORITY", "openai,gemini")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Buffer.BatchSize, convey.ShouldEqual, 12)
				convey.So(cfg.Buffer.Interval, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.Recognition.OpenAI.APIKey, convey.ShouldEqual, "sk-test")
				convey.So(cfg.Recognition.OpenAI.Model, convey.ShouldEqual, "gpt-4o")
				convey.So(cfg.Recognition.Priority, convey.ShouldResemble, []string{"openai", "gemini"})
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			clearConfigEnvVars(t)
			path := writeConfigFile(t, `
addr: ":9090"
store:
  driver: mysql
  dsn: "user:pass@tcp(db:3306)/dorsal?parseTime=true"
recognition:
  processor: hybrid
  priority: [google-vision]
  hybrid_margin: 0.2
  gemini:
    api_key: g-key
device:
  batch_size: 25
`)
			t.Setenv("DORSAL_CONFIG", path)
			t.Setenv("DORSAL_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Store.Driver, convey.ShouldEqual, "mysql")
				convey.So(cfg.Recognition.Processor, convey.ShouldEqual, "hybrid")
				convey.So(cfg.Recognition.Priority, convey.ShouldResemble, []string{"google-vision"})
				convey.So(cfg.Recognition.HybridMargin, convey.ShouldEqual, 0.2)
				convey.So(cfg.Recognition.Gemini.APIKey, convey.ShouldEqual, "g-key")
				convey.So(cfg.Recognition.Gemini.Model, convey.ShouldEqual, "gemini-2.5-flash")
				convey.So(cfg.Device.BatchSize, convey.ShouldEqual, 25)
				convey.So(cfg.Device.Interval, convey.ShouldEqual, 5*time.Second)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			clearConfigEnvVars(t)
			t.Setenv("DORSAL_CONFIG", "/non/existent/file.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the merged config is invalid", func() {
			clearConfigEnvVars(t)
			t.Setenv("DORSAL_STORE__DRIVER", "oracle")

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dorsal.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, config.EnvPrefix) {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}
