package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/tripwire/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.SeedStrategy, convey.ShouldEqual, config.SeedRandom)
			convey.So(cfg.ConfirmQueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.PreloadConcurrency, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.CacheTTL(), convey.ShouldEqual, time.Duration(0))
			convey.So(cfg.ScriptTimeout(), convey.ShouldEqual, 50*time.Millisecond)
			convey.So(cfg.BackendTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.ConfirmBackoff(), convey.ShouldEqual, 500*time.Millisecond)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with invalid values", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"unknown driver", func(c *config.Config) { c.StoreDriver = "redis" }},
			{"sqlite no path", func(c *config.Config) { c.StoreDriver = config.StoreSQLite; c.StorePath = "" }},
			{"unknown strategy", func(c *config.Config) { c.SeedStrategy = "device" }},
			{"unknown format", func(c *config.Config) { c.LogFormat = "xml" }},
			{"zero queue", func(c *config.Config) { c.ConfirmQueueSize = 0 }},
			{"zero workers", func(c *config.Config) { c.ConfirmWorkers = 0 }},
			{"zero attempts", func(c *config.Config) { c.FetchMaxAttempts = 0 }},
			{"negative ttl", func(c *config.Config) { c.CacheTTLSeconds = -1 }},
			{"zero script limit", func(c *config.Config) { c.ScriptTimeoutMS = 0 }},
			{"zero preload", func(c *config.Config) { c.PreloadConcurrency = 0 }},
			{"empty locale", func(c *config.Config) { c.DefaultLocale = "" }},
		}

		for _, tc := range cases {
			cfg := config.New()
			tc.mutate(cfg)

			convey.Convey("Then "+tc.name+" is rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
