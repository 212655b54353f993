package model

import (
	"encoding/json"
	"time"
)

// Attribute namespaces visible to expressions.
const (
	NamespaceUser   = "user"
	NamespaceDevice = "device"
	NamespaceParams = "params"
)

// Attributes is the bundle an expression is evaluated against.
// It is assembled per call and never persisted.
type Attributes struct {
	User   map[string]any `json:"user,omitempty"`
	Device map[string]any `json:"device,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Namespaces returns the bundle keyed by namespace. Nil maps become empty
// maps so lookups fail as missing keys rather than on nil.
func (a Attributes) Namespaces() map[string]any {
	return map[string]any{
		NamespaceUser:   orEmpty(a.User),
		NamespaceDevice: orEmpty(a.Device),
		NamespaceParams: orEmpty(a.Params),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// calledManually identifies content requested without content id or event.
const calledManually = "$called_manually"

// ContentRequest identifies the content to retrieve.
type ContentRequest struct {
	ContentID     string            `json:"content_id,omitempty"`
	EventName     string            `json:"event_name,omitempty"`
	Locale        string            `json:"locale"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
}

// Identifier is the content id, else the event name, else "$called_manually".
func (r ContentRequest) Identifier() string {
	switch {
	case r.ContentID != "":
		return r.ContentID
	case r.EventName != "":
		return r.EventName
	default:
		return calledManually
	}
}

// CacheKey is the dedup key for the request, e.g. "P1_en_US".
func (r ContentRequest) CacheKey() string {
	return r.Identifier() + "_" + r.Locale
}

// Content is the payload a variant points to.
type Content struct {
	Identifier string          `json:"identifier"`
	ContentID  string          `json:"content_id,omitempty"`
	EventName  string          `json:"event_name,omitempty"`
	Locale     string          `json:"locale"`
	Body       json.RawMessage `json:"body,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
}
