// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/tripwire/internal/adapters/backend"
	service "github.com/okian/tripwire/internal/app"
	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Resolve(ctx context.Context, event string, attrs model.Attributes, dryRun bool) model.Outcome
	GetContent(ctx context.Context, req model.ContentRequest, allowCache bool) (model.Content, error)
	Identify(ctx context.Context, userID string) (model.IdentifyResult, error)
	Reset(ctx context.Context) error
	ReloadTriggers(ctx context.Context) (int64, error)
	User(ctx context.Context) (model.UserState, error)
}

// Server wires HTTP routes for the resolution API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	resolveHandler *ResolveHandler
	contentHandler *ContentHandler
	userHandler    *UserHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		resolveHandler: NewResolveHandler(deps),
		contentHandler: NewContentHandler(deps),
		userHandler:    NewUserHandler(deps),
	}
}

// Routes returns the router with every endpoint registered.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, chimw.Recoverer, MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", s.resolveHandler.HandleResolve)
		r.Post("/content", s.contentHandler.HandleContent)
		r.Post("/identify", s.userHandler.HandleIdentify)
		r.Post("/reset", s.userHandler.HandleReset)
		r.Get("/user", s.userHandler.HandleUser)
		r.Post("/triggers/reload", s.userHandler.HandleReloadTriggers)
	})
	return r
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg, RequestID: RequestIDFrom(r.Context())})
}

// statusFor maps domain and backend errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrEmptyEvent),
		errors.Is(err, service.ErrEmptyUser):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, backend.ErrNetwork), errors.Is(err, backend.ErrDecode):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrNoFetcher):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
