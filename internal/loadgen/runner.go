package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/okian/tripwire/pkg/logger"
)

// ErrInconsistent is returned when the service answered the same experiment
// with different variants during one run.
var ErrInconsistent = errors.New("inconsistent assignments")

// Run checks the service is healthy, sends the generated requests through
// cfg.Workers workers and verifies the answers.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (Report, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Requests <= 0 || cfg.Workers <= 0 || cfg.Event == "" {
		return Report{}, fmt.Errorf("loadgen: requests, workers and event are required")
	}
	c := &client{base: cfg.BaseURL, http: &http.Client{Timeout: cfg.Timeout}}
	start := time.Now()

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("event", cfg.Event),
		logger.Int("requests", cfg.Requests),
		logger.Int("workers", cfg.Workers))

	if err := c.get(ctx, "/healthz", nil); err != nil {
		return Report{}, fmt.Errorf("service health check failed: %w", err)
	}

	reqs := generateRequests(cfg, rand.New(rand.NewPCG(uint64(start.UnixNano()), 0))) //nolint:gosec // load shape only
	responses, failed := submit(ctx, c, cfg, reqs, log)

	report := verify(responses)
	report.Sent = len(reqs)
	report.Failed = failed
	report.Duration = time.Since(start)

	log.Info(ctx, "load run finished",
		logger.Int("sent", report.Sent),
		logger.Int("failed", report.Failed),
		logger.Any("outcomes", report.Outcomes),
		logger.String("duration", report.Duration.String()))

	if len(report.Conflicts) > 0 {
		return report, fmt.Errorf("%w: %v", ErrInconsistent, report.Conflicts)
	}
	return report, nil
}

// submit posts reqs through a fixed pool of workers and returns the answers
// that decoded along with the number that did not.
func submit(ctx context.Context, c *client, cfg *Config, reqs []Request, log logger.Logger) ([]Response, int) {
	jobs := make(chan Request, cfg.Workers*2)
	var (
		mu        sync.Mutex
		responses = make([]Response, 0, len(reqs))
		wg        sync.WaitGroup
	)

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				var resp Response
				err := c.post(ctx, "/v1/resolve", req, &resp)
				if err != nil {
					if cfg.Verbose {
						log.Warn(ctx, "resolve request failed", logger.Error(err))
					}
					continue
				}
				mu.Lock()
				responses = append(responses, resp)
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, req := range reqs {
			select {
			case <-ctx.Done():
				return
			case jobs <- req:
			}
		}
	}()

	wg.Wait()
	// Requests never sent because ctx ended count as failed.
	return responses, len(reqs) - len(responses)
}
