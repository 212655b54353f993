// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/tripwire/internal/domain/model"
)

// UserDependencies defines the per-user operations and trigger reloads.
type UserDependencies interface {
	Identify(ctx context.Context, userID string) (model.IdentifyResult, error)
	Reset(ctx context.Context) error
	ReloadTriggers(ctx context.Context) (int64, error)
	User(ctx context.Context) (model.UserState, error)
}

// UserHandler handles identify, reset and trigger reload requests.
type UserHandler struct {
	deps UserDependencies
}

// NewUserHandler creates a new user handler.
func NewUserHandler(deps UserDependencies) *UserHandler {
	return &UserHandler{deps: deps}
}

type identifyRequest struct {
	UserID string `json:"user_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Version int64  `json:"version,omitempty"`
}

// HandleIdentify handles POST /v1/identify requests.
func (h *UserHandler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	const op = "api.identify"
	var req identifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("missing user_id")))
		return
	}
	res, err := h.deps.Identify(r.Context(), req.UserID)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, r, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleUser handles GET /v1/user requests.
func (h *UserHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.User(r.Context())
	if err != nil {
		status, code := statusFor(err)
		writeError(w, r, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleReset handles POST /v1/reset requests.
func (h *UserHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Reset(r.Context()); err != nil {
		status, code := statusFor(err)
		writeError(w, r, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "reset"})
}

// HandleReloadTriggers handles POST /v1/triggers/reload requests.
func (h *UserHandler) HandleReloadTriggers(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.ReloadTriggers(r.Context())
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			status, code = http.StatusUnprocessableEntity, "invalid_triggers"
		}
		writeError(w, r, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "reloaded", Version: v})
}
