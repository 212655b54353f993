// Package loadgen drives a running tripwire server with generated resolve
// requests and checks that its answers stay consistent under concurrency.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Event    string        // Event resolved by every request
	Requests int           // Number of requests to send
	Workers  int           // Number of concurrent workers
	Timeout  time.Duration // HTTP request timeout
	DryRun   bool          // Ask the service not to record anything
	Verbose  bool
}

// Request is the body posted to /v1/resolve.
type Request struct {
	Event  string         `json:"event"`
	User   map[string]any `json:"user,omitempty"`
	Device map[string]any `json:"device,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	DryRun bool           `json:"dry_run,omitempty"`
}

// Response is the subset of the resolve answer the run inspects.
type Response struct {
	Outcome    string `json:"outcome"`
	Experiment *struct {
		ID      string `json:"id"`
		Variant struct {
			ID string `json:"id"`
		} `json:"variant"`
	} `json:"experiment"`
}

// Report summarises a load run.
type Report struct {
	Sent      int               `json:"sent"`
	Failed    int               `json:"failed"`
	Outcomes  map[string]int    `json:"outcomes"`
	Variants  map[string]string `json:"variants"` // experiment id -> variant id
	Conflicts []string          `json:"conflicts,omitempty"`
	Duration  time.Duration     `json:"duration"`
}
