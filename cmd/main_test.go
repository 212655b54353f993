package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	app "github.com/okian/tripwire/internal/app"
	"github.com/okian/tripwire/internal/config"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestServiceOptions(t *testing.T) {
	convey.Convey("Given a loaded configuration", t, func() {
		cfg := config.New()

		convey.Convey("When no backend is configured", func() {
			opts, err := serviceOptions(cfg, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			convey.So(opts, convey.ShouldHaveLength, 11)
		})

		convey.Convey("When a backend is configured", func() {
			cfg.BackendURL = "http://backend.local"
			opts, err := serviceOptions(cfg, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			convey.So(opts, convey.ShouldHaveLength, 14)
		})

		convey.Convey("When the seed strategy is unknown", func() {
			cfg.SeedStrategy = "device"
			_, err := serviceOptions(cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a configured service behind the router", t, func() {
		dir := t.TempDir()
		triggers := dir + "/triggers.yaml"
		convey.So(os.WriteFile(triggers, []byte(`
triggers:
  - event: my_event
    rules:
      - expression: "user.plan == 'free'"
        experiment:
          id: E1
          variants:
            - {id: E1-t, type: treatment, weight: 100, content_id: P1}
`), 0o600), convey.ShouldBeNil)

		cfg := config.New()
		cfg.TriggersPath = triggers
		opts, err := serviceOptions(cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc := app.New(opts...)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		h := newRouter(svc)

		convey.Convey("Then the event resolves over HTTP", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/resolve",
				strings.NewReader(`{"event":"my_event","user":{"plan":"free"}}`))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"outcome":"paywall"`)
		})

		convey.Convey("Then the docs are served next to the API", func() {
			for _, path := range []string{"/openapi.yaml", "/api-docs", "/healthz"} {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then content is unavailable without a backend", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/content", strings.NewReader(`{"content_id":"P1"}`))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		convey.Convey("When testing system metrics update", func() {
			convey.So(func() { updateSystemMetrics() }, convey.ShouldNotPanic)
		})

		convey.Convey("When the metrics updaters run until cancelled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			svc := app.New(app.WithLogger(logger.Nop()))

			convey.So(func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, svc)
			}, convey.ShouldNotPanic)
		})
	})
}
