// Package worker delivers queued assignment confirmations to the backend with
// an independent retry loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 2
	defaultMaxAttempts  = 5
	defaultBackoff      = 200 * time.Millisecond
	maxBackoff          = 30 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Sender delivers confirmations to the backend.
type Sender interface {
	Confirm(ctx context.Context, confirmations []model.Confirmation) error
}

// Queue defines how workers receive confirmations.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Confirmation
}

// Worker processes confirmations until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue  Queue
	sender Sender
	cfg    config

	done chan struct{}
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, sender Sender, opts ...Option) *InMemoryWorker {
	cfg := newConfig(opts)
	cfg.log = cfg.log.Named(cfg.name)
	return &InMemoryWorker{
		queue:  queue,
		sender: sender,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Run starts the worker loop. Confirmations already dequeued are retried to
// completion unless ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-items:
			if !ok {
				return
			}
			if err := w.deliver(ctx, c); err != nil {
				w.cfg.log.Error(ctx, "confirmation abandoned",
					logger.String("confirmation", c.ID),
					logger.String("experiment", c.ExperimentID),
					logger.String("variant", c.VariantID),
					logger.Error(err))
			}
		}
	}
}

// Shutdown waits for Run to return or ctx to end.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cfg.log.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// deliver sends c, backing off exponentially between attempts.
func (w *InMemoryWorker) deliver(ctx context.Context, c model.Confirmation) error {
	backoff := w.cfg.backoff
	var lastErr error
	for attempt := 1; attempt <= w.cfg.maxAttempts; attempt++ {
		c.Attempt = attempt
		err := w.sender.Confirm(ctx, []model.Confirmation{c})
		if err == nil {
			metrics.RecordConfirmationSent()
			w.cfg.log.Debug(ctx, "confirmation sent",
				logger.String("confirmation", c.ID),
				logger.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		if attempt == w.cfg.maxAttempts {
			break
		}

		metrics.RecordConfirmationRetry()
		w.cfg.log.Warn(ctx, "confirmation failed, retrying",
			logger.String("confirmation", c.ID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.Error(err))
		if err := sleep(ctx, backoff); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		backoff = min(backoff*2, maxBackoff)
	}

	metrics.RecordConfirmationFailure()
	metrics.RecordErrorByComponent("worker", "confirm_failed")
	return fmt.Errorf("%w after %d attempts: %w", ErrConfirmFailed, c.Attempt, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool manages multiple workers reading the same queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	log     logger.Logger

	stopOnce sync.Once
}

// NewPool creates a new worker pool. workerCount < 1 uses the default.
func NewPool(workerCount int, queue Queue, sender Sender, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	cfg := newConfig(opts)

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		log:     cfg.log.Named("confirm-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append(append([]Option{}, opts...), WithName("confirm-worker-"+strconv.Itoa(i)))
		pool.workers[i] = NewInMemoryWorker(queue, sender, workerOpts...)
	}

	metrics.UpdateConfirmWorkers(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.log.Info(ctx, "confirmation workers started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue so workers drain what is left, then waits for
// them up to ctx's deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	var errs []error
	p.stopOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close queue: %w", err))
			}
		}
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.log.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
