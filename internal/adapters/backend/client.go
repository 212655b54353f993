// Package backend is the HTTP client for the paywall backend: content fetch,
// assignment confirmation and server-side assignment lookup.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout     = 5 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 250 * time.Millisecond
	maxResponseBytes   = 4 << 20
)

// Client talks to the backend over HTTP. Fetch retries transient failures;
// Confirm makes a single attempt and leaves retrying to its caller.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	log         logger.Logger
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	c := &Client{
		baseURL:     u,
		http:        &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		now:         time.Now,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch retrieves the content for req. A 404 is ErrNotFound and is not
// retried; network failures and 5xx responses are retried up to the attempt
// limit and then reported as ErrNetwork.
func (c *Client) Fetch(ctx context.Context, req model.ContentRequest) (model.Content, error) {
	q := url.Values{}
	q.Set("locale", req.Locale)
	if req.EventName != "" {
		q.Set("event", req.EventName)
	}
	keys := make([]string, 0, len(req.Substitutions))
	for k := range req.Substitutions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set("substitution["+k+"]", req.Substitutions[k])
	}
	endpoint := c.endpoint("/v1/content/"+url.PathEscape(req.Identifier()), q)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		metrics.RecordFetchAttempt()
		body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err == nil {
			if !json.Valid(body) {
				return model.Content{}, fmt.Errorf("%w: content %q is not valid json", ErrDecode, req.Identifier())
			}
			return model.Content{
				Identifier: req.Identifier(),
				ContentID:  req.ContentID,
				EventName:  req.EventName,
				Locale:     req.Locale,
				Body:       json.RawMessage(body),
				FetchedAt:  c.now(),
			}, nil
		}
		if !retryable(err) || ctx.Err() != nil {
			return model.Content{}, err
		}
		lastErr = err
		if attempt < c.maxAttempts {
			c.log.Debug(ctx, "content fetch failed, retrying",
				logger.String("identifier", req.Identifier()),
				logger.Int("attempt", attempt),
				logger.Error(err))
			if err := wait(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				return model.Content{}, fmt.Errorf("%w: %w", ErrNetwork, err)
			}
		}
	}
	return model.Content{}, lastErr
}

type confirmRequest struct {
	Assignments []model.Assignment `json:"assignments"`
}

// Confirm acknowledges locally bucketed assignments.
func (c *Client) Confirm(ctx context.Context, confirmations []model.Confirmation) error {
	payload := confirmRequest{Assignments: make([]model.Assignment, len(confirmations))}
	for i, conf := range confirmations {
		payload.Assignments[i] = model.Assignment{ExperimentID: conf.ExperimentID, VariantID: conf.VariantID}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, c.endpoint("/v1/confirm_assignments", nil), raw)
	return err
}

type assignmentsResponse struct {
	Assignments []model.Assignment `json:"assignments"`
}

// Assignments returns the assignments the backend holds for userID.
func (c *Client) Assignments(ctx context.Context, userID string) ([]model.Assignment, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/v1/assignments", q), nil)
	if err != nil {
		return nil, err
	}
	var resp assignmentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return resp.Assignments, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

// statusError carries a non-2xx status.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, req.URL.Path, &statusError{code: resp.StatusCode})
	}
	return data, nil
}

// retryable reports whether err is worth another attempt: transport errors
// and 5xx or 429 responses.
func retryable(err error) bool {
	if !errors.Is(err, ErrNetwork) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
