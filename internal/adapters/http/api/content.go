// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/okian/tripwire/internal/domain/model"
)

// ContentDependencies defines the interface for content retrieval.
type ContentDependencies interface {
	GetContent(ctx context.Context, req model.ContentRequest, allowCache bool) (model.Content, error)
}

// ContentHandler handles content requests.
type ContentHandler struct {
	deps ContentDependencies
}

// NewContentHandler creates a new content handler.
func NewContentHandler(deps ContentDependencies) *ContentHandler {
	return &ContentHandler{deps: deps}
}

// contentRequest is the body of POST /v1/content. AllowCache defaults to true.
type contentRequest struct {
	ContentID     string            `json:"content_id"`
	Event         string            `json:"event"`
	Locale        string            `json:"locale"`
	AllowCache    *bool             `json:"allow_cache"`
	Substitutions map[string]string `json:"substitutions"`
}

// HandleContent handles POST /v1/content requests.
func (h *ContentHandler) HandleContent(w http.ResponseWriter, r *http.Request) {
	const op = "api.content"
	var req contentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	allowCache := req.AllowCache == nil || *req.AllowCache

	content, err := h.deps.GetContent(r.Context(), model.ContentRequest{
		ContentID:     req.ContentID,
		EventName:     req.Event,
		Locale:        req.Locale,
		Substitutions: req.Substitutions,
	}, allowCache)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, r, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}
