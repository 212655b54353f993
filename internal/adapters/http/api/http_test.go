package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/tripwire/internal/adapters/backend"
	"github.com/okian/tripwire/internal/adapters/http/api"
	service "github.com/okian/tripwire/internal/app"
	"github.com/okian/tripwire/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies records calls and returns canned results.
type mockDependencies struct {
	outcome    model.Outcome
	gotEvent   string
	gotAttrs   model.Attributes
	gotDryRun  bool
	content    model.Content
	contentErr error
	gotReq     model.ContentRequest
	gotCache   bool
	identify   model.IdentifyResult
	resetErr   error
	resets     int
	reloadErr  error
	user       model.UserState
	userErr    error
}

func (m *mockDependencies) Resolve(_ context.Context, event string, attrs model.Attributes, dryRun bool) model.Outcome {
	m.gotEvent, m.gotAttrs, m.gotDryRun = event, attrs, dryRun
	return m.outcome
}

func (m *mockDependencies) GetContent(_ context.Context, req model.ContentRequest, allowCache bool) (model.Content, error) {
	m.gotReq, m.gotCache = req, allowCache
	return m.content, m.contentErr
}

func (m *mockDependencies) Identify(_ context.Context, _ string) (model.IdentifyResult, error) {
	return m.identify, nil
}

func (m *mockDependencies) Reset(context.Context) error {
	m.resets++
	return m.resetErr
}

func (m *mockDependencies) ReloadTriggers(context.Context) (int64, error) {
	return 7, m.reloadErr
}

func (m *mockDependencies) User(context.Context) (model.UserState, error) {
	return m.user, m.userErr
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newRouter(deps *mockDependencies) http.Handler {
	return api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}).Routes()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Routes(t *testing.T) {
	Convey("Given the API router", t, func() {
		h := newRouter(&mockDependencies{})

		Convey("Then health, stats and metrics are served", func() {
			w := do(h, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"ok"`)

			w = do(h, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)

			w = do(h, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "tripwire_")
		})

		Convey("Then every response carries a request id", func() {
			w := do(h, http.MethodGet, "/healthz", "")
			So(w.Header().Get(api.RequestIDHeader), ShouldNotBeEmpty)

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(api.RequestIDHeader, "abc")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			So(rec.Header().Get(api.RequestIDHeader), ShouldEqual, "abc")
		})

		Convey("Then unknown routes and wrong methods are rejected", func() {
			So(do(h, http.MethodGet, "/nope", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/v1/resolve", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestResolveHandler(t *testing.T) {
	Convey("Given a resolve endpoint", t, func() {
		deps := &mockDependencies{outcome: model.PaywallOutcome(model.Experiment{
			ID: "E1", GroupID: "G1",
			Variant: model.Variant{ID: "v1", Type: model.VariantTreatment, ContentID: "P1"},
		})}
		h := newRouter(deps)

		Convey("When a valid request is posted", func() {
			w := do(h, http.MethodPost, "/v1/resolve",
				`{"event":"my_event","user":{"plan":"free"},"device":{"os":"ios"},"dry_run":true}`)

			Convey("Then the outcome is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["outcome"], ShouldEqual, "paywall")
				So(body["show_paywall"], ShouldEqual, true)
				So(body["experiment"].(map[string]any)["id"], ShouldEqual, "E1")
				So(deps.gotEvent, ShouldEqual, "my_event")
				So(deps.gotAttrs.User["plan"], ShouldEqual, "free")
				So(deps.gotAttrs.Device["os"], ShouldEqual, "ios")
				So(deps.gotDryRun, ShouldBeTrue)
			})
		})

		Convey("When no rule matches", func() {
			deps.outcome = model.NoRuleMatchOutcome([]model.UnmatchedRule{{ExperimentID: "E1", Reason: model.UnmatchedOccurrence}})
			w := do(h, http.MethodPost, "/v1/resolve", `{"event":"my_event"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"reason":"occurrence"`)
			So(w.Body.String(), ShouldContainSubstring, `"show_paywall":false`)
		})

		Convey("When the event is missing or the body is malformed", func() {
			So(do(h, http.MethodPost, "/v1/resolve", `{"user":{}}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/v1/resolve", `{`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/v1/resolve", `{"event":"e","color":"red"}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the service is not running", func() {
			deps.outcome = model.ErrorOutcome(service.ErrNotStarted)
			So(do(h, http.MethodPost, "/v1/resolve", `{"event":"e"}`).Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestContentHandler(t *testing.T) {
	Convey("Given a content endpoint", t, func() {
		deps := &mockDependencies{content: model.Content{Identifier: "P1", Locale: "en_US", Body: []byte(`{"title":"x"}`)}}
		h := newRouter(deps)

		Convey("When content is requested without allow_cache", func() {
			w := do(h, http.MethodPost, "/v1/content", `{"content_id":"P1","locale":"en_US"}`)

			Convey("Then caching defaults to allowed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotCache, ShouldBeTrue)
				So(deps.gotReq.CacheKey(), ShouldEqual, "P1_en_US")
				So(w.Body.String(), ShouldContainSubstring, `"title":"x"`)
			})
		})

		Convey("When caching is disabled with substitutions", func() {
			do(h, http.MethodPost, "/v1/content", `{"event":"my_event","allow_cache":false,"substitutions":{"a":"b"}}`)
			So(deps.gotCache, ShouldBeFalse)
			So(deps.gotReq.EventName, ShouldEqual, "my_event")
			So(deps.gotReq.Substitutions["a"], ShouldEqual, "b")
		})

		errCases := []struct {
			err    error
			status int
		}{
			{fmt.Errorf("%w: /v1/content/P9", backend.ErrNotFound), http.StatusNotFound},
			{fmt.Errorf("%w: status 503", backend.ErrNetwork), http.StatusBadGateway},
			{backend.ErrDecode, http.StatusBadGateway},
			{service.ErrNoFetcher, http.StatusServiceUnavailable},
			{context.DeadlineExceeded, http.StatusGatewayTimeout},
		}
		for _, tc := range errCases {
			Convey(fmt.Sprintf("When the fetch fails with %v", tc.err), func() {
				deps.contentErr = tc.err
				w := do(h, http.MethodPost, "/v1/content", `{"content_id":"P9"}`)
				So(w.Code, ShouldEqual, tc.status)
			})
		}
	})
}

func TestUserHandler(t *testing.T) {
	Convey("Given the identify, reset and reload endpoints", t, func() {
		deps := &mockDependencies{identify: model.IdentifyResult{SeedChanged: true, Applied: 2}}
		h := newRouter(deps)

		Convey("When a user is identified", func() {
			w := do(h, http.MethodPost, "/v1/identify", `{"user_id":"u1"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"seed_changed":true`)
			So(w.Body.String(), ShouldContainSubstring, `"applied":2`)
		})

		Convey("When the user id is missing", func() {
			So(do(h, http.MethodPost, "/v1/identify", `{}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the user is reset", func() {
			w := do(h, http.MethodPost, "/v1/reset", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.resets, ShouldEqual, 1)
		})

		Convey("When triggers are reloaded", func() {
			w := do(h, http.MethodPost, "/v1/triggers/reload", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"version":7`)

			deps.reloadErr = fmt.Errorf("bad document")
			So(do(h, http.MethodPost, "/v1/triggers/reload", "").Code, ShouldEqual, http.StatusUnprocessableEntity)
		})

		Convey("When the user state is read", func() {
			deps.user = model.UserState{
				UserID:       "u1",
				SeedStrategy: "user_id",
				Assignments:  map[string]model.Variant{"E1": {ID: "E1-a", Type: model.VariantTreatment, ContentID: "P1"}},
				Occurrences:  map[string]int{"welcome": 2},
			}
			w := do(h, http.MethodGet, "/v1/user", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"user_id":"u1"`)
			So(w.Body.String(), ShouldContainSubstring, `"seed_strategy":"user_id"`)
			So(w.Body.String(), ShouldContainSubstring, `"E1-a"`)
			So(w.Body.String(), ShouldContainSubstring, `"welcome":2`)

			deps.userErr = service.ErrNotStarted
			So(do(h, http.MethodGet, "/v1/user", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
