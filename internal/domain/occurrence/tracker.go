// Package occurrence rate-limits audience rules by counting how often a rule
// key has matched, optionally within a sliding window.
package occurrence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/okian/tripwire/internal/domain/model"
	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

const keyPrefix = "occurrences/"

// Check reports whether a constraint passes given the number of prior
// occurrences in its window. A nil constraint always passes.
func Check(c *model.OccurrenceConstraint, prior int) bool {
	if c == nil {
		return true
	}
	return prior < c.MaxCount
}

// Prune drops timestamps that can no longer fall inside interval for any
// count made at or after now. An infinite interval keeps everything.
func Prune(history []time.Time, interval model.Interval, now time.Time) []time.Time {
	if interval.IsInfinite() {
		return history
	}
	cutoff := now.Add(-interval.Duration())
	kept := history[:0:0]
	for _, at := range history {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

// CountWithin counts timestamps inside the interval ending at now.
func CountWithin(history []time.Time, interval model.Interval, now time.Time) int {
	if interval.IsInfinite() {
		return len(history)
	}
	cutoff := now.Add(-interval.Duration())
	n := 0
	for _, at := range history {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// Tracker persists occurrence history in a Store. Access to a key is
// serialized from the moment it is counted until the reservation ends.
type Tracker struct {
	store model.Store
	clock clock.PassiveClock
	log   logger.Logger
	locks *keyLock
}

// New creates a tracker over store.
func New(store model.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		clock: clock.RealClock{},
		log:   logger.Nop(),
		locks: newKeyLock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reservation is an unsaved occurrence. It holds the key's lock until Commit
// or Release, so a concurrent fire on the same key cannot take the same slot.
// A nil Reservation is valid and stands for "no constraint".
type Reservation struct {
	tracker  *Tracker
	key      string
	interval model.Interval
	history  []time.Time
	at      time.Time
	unlock  func()
	done    bool
}

// Reserve counts prior occurrences for c and returns a reservation when the
// constraint passes, or ErrExceeded when it does not. A nil constraint yields
// a nil reservation and no error.
func (t *Tracker) Reserve(ctx context.Context, c *model.OccurrenceConstraint) (*Reservation, error) {
	if c == nil {
		return nil, nil
	}
	unlock := t.locks.Lock(c.Key)

	history, err := t.load(ctx, c.Key)
	if err != nil {
		unlock()
		return nil, err
	}
	now := t.clock.Now()
	prior := CountWithin(history, c.Interval, now)
	if !Check(c, prior) {
		unlock()
		return nil, fmt.Errorf("%w: key %q has %d of %d", ErrExceeded, c.Key, prior, c.MaxCount)
	}
	return &Reservation{
		tracker:  t,
		key:      c.Key,
		interval: c.Interval,
		history:  history,
		at:       now,
		unlock:   unlock,
	}, nil
}

// Commit persists the occurrence and releases the key. History that has
// left the constraint's window is dropped on the way.
func (r *Reservation) Commit(ctx context.Context) error {
	if r == nil || r.done {
		return nil
	}
	defer r.Release()

	history := append(Prune(r.history, r.interval, r.at), r.at)
	if err := r.tracker.save(ctx, r.key, history); err != nil {
		return err
	}
	metrics.RecordOccurrenceRecorded()
	r.tracker.log.Debug(ctx, "occurrence recorded",
		logger.String("key", r.key),
		logger.Int("total", len(history)))
	return nil
}

// Release drops the reservation without recording anything. Safe to call
// more than once and after Commit.
func (r *Reservation) Release() {
	if r == nil || r.done {
		return
	}
	r.done = true
	r.unlock()
}

// Count returns the number of occurrences for c's key within c's interval.
func (t *Tracker) Count(ctx context.Context, c model.OccurrenceConstraint) (int, error) {
	unlock := t.locks.Lock(c.Key)
	defer unlock()

	history, err := t.load(ctx, c.Key)
	if err != nil {
		return 0, err
	}
	return CountWithin(history, c.Interval, t.clock.Now()), nil
}

// Reset deletes the history of every key.
func (t *Tracker) Reset(ctx context.Context) error {
	keys, err := t.store.Keys(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list occurrence keys: %w", err)
	}
	var errs []error
	for _, storeKey := range keys {
		unlock := t.locks.Lock(storeKey[len(keyPrefix):])
		if err := t.store.Delete(ctx, storeKey); err != nil {
			errs = append(errs, err)
		}
		unlock()
	}
	return errors.Join(errs...)
}

func (t *Tracker) load(ctx context.Context, key string) ([]time.Time, error) {
	raw, err := t.store.Get(ctx, keyPrefix+key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load occurrences %q: %w", key, err)
	}
	var history []time.Time
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("%w: key %q: %v", ErrCorrupt, key, err)
	}
	return history, nil
}

func (t *Tracker) save(ctx context.Context, key string, history []time.Time) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode occurrences %q: %w", key, err)
	}
	if err := t.store.Set(ctx, keyPrefix+key, raw); err != nil {
		return fmt.Errorf("save occurrences %q: %w", key, err)
	}
	return nil
}
