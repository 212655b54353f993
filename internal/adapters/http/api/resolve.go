// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/tripwire/internal/domain/model"
)

// ResolveDependencies defines the interface for event resolution.
type ResolveDependencies interface {
	Resolve(ctx context.Context, event string, attrs model.Attributes, dryRun bool) model.Outcome
}

// ResolveHandler handles event resolution requests.
type ResolveHandler struct {
	deps ResolveDependencies
}

// NewResolveHandler creates a new resolve handler.
func NewResolveHandler(deps ResolveDependencies) *ResolveHandler {
	return &ResolveHandler{deps: deps}
}

// resolveRequest is the body of POST /v1/resolve.
type resolveRequest struct {
	Event  string         `json:"event"`
	User   map[string]any `json:"user"`
	Device map[string]any `json:"device"`
	Params map[string]any `json:"params"`
	DryRun bool           `json:"dry_run"`
}

func (r resolveRequest) validate() error {
	if strings.TrimSpace(r.Event) == "" {
		return errors.New("missing event")
	}
	return nil
}

type outcomeResponse struct {
	Outcome     string                `json:"outcome"`
	ShowPaywall bool                  `json:"show_paywall"`
	Experiment  *model.Experiment     `json:"experiment,omitempty"`
	Unmatched   []model.UnmatchedRule `json:"unmatched,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func newOutcomeResponse(o model.Outcome) outcomeResponse {
	resp := outcomeResponse{
		Outcome:     o.Kind.String(),
		ShowPaywall: o.ShowsPaywall(),
		Experiment:  o.Experiment,
		Unmatched:   o.Unmatched,
	}
	if o.Err != nil && o.Kind == model.OutcomeError {
		resp.Error = o.Err.Error()
	}
	return resp
}

// HandleResolve handles POST /v1/resolve requests. Every outcome, including
// event_not_found and error, is a 200; only malformed requests and an
// unavailable service are reported as HTTP errors.
func (h *ResolveHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	const op = "api.resolve"
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	attrs := model.Attributes{User: req.User, Device: req.Device, Params: req.Params}
	out := h.deps.Resolve(r.Context(), req.Event, attrs, req.DryRun)
	if out.Kind == model.OutcomeError {
		if status, code := statusFor(out.Err); status == http.StatusServiceUnavailable {
			writeError(w, r, status, code, out.Err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newOutcomeResponse(out))
}
