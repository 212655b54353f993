package assignment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/tripwire/internal/domain/model"
)

// SeedStrategy selects where the bucketing seed comes from.
type SeedStrategy string

// Seed strategies.
//
// SeedRandom generates one random seed on first use and keeps it until Reset.
// SeedUserID replaces the seed with a hash of the user id on Identify, so the
// same user buckets the same way on every device and after re-login. Before
// the first Identify the random seed is used.
const (
	SeedRandom SeedStrategy = "random"
	SeedUserID SeedStrategy = "user_id"
)

// ParseSeedStrategy validates a configured strategy name.
func ParseSeedStrategy(s string) (SeedStrategy, error) {
	switch SeedStrategy(s) {
	case "", SeedRandom:
		return SeedRandom, nil
	case SeedUserID:
		return SeedUserID, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

const (
	seedKey   = "seed"
	userIDKey = "user_id"
)

// Seeds owns the persisted bucketing seed.
type Seeds struct {
	store    model.Store
	strategy SeedStrategy
	random   func() uint64

	mu     sync.Mutex
	cached *uint64
}

// NewSeeds creates a seed source. random defaults to math/rand/v2.
func NewSeeds(store model.Store, strategy SeedStrategy, random func() uint64) *Seeds {
	if random == nil {
		random = rand.Uint64
	}
	if strategy == "" {
		strategy = SeedRandom
	}
	return &Seeds{store: store, strategy: strategy, random: random}
}

// Strategy returns the configured strategy.
func (s *Seeds) Strategy() SeedStrategy { return s.strategy }

// Seed returns the stable seed, generating and persisting it on first use.
func (s *Seeds) Seed(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}

	raw, err := s.store.Get(ctx, seedKey)
	switch {
	case err == nil:
		v, perr := strconv.ParseUint(string(raw), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("%w: seed %q", ErrCorrupt, raw)
		}
		s.cached = &v
		return v, nil
	case errors.Is(err, model.ErrNotFound):
		return s.persist(ctx, s.random())
	default:
		return 0, fmt.Errorf("load seed: %w", err)
	}
}

// Identify records the current user. Under SeedUserID the seed becomes a
// hash of userID. It returns whether the seed changed.
func (s *Seeds) Identify(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(ctx, userIDKey, []byte(userID)); err != nil {
		return false, fmt.Errorf("save user id: %w", err)
	}
	if s.strategy != SeedUserID {
		return false, nil
	}
	seed := xxhash.Sum64String(userID)
	if s.cached != nil && *s.cached == seed {
		return false, nil
	}
	if _, err := s.persist(ctx, seed); err != nil {
		return false, err
	}
	return true, nil
}

// UserID returns the identified user, or "" before Identify.
func (s *Seeds) UserID(ctx context.Context) (string, error) {
	raw, err := s.store.Get(ctx, userIDKey)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load user id: %w", err)
	}
	return string(raw), nil
}

// Reset forgets the seed and the identified user.
func (s *Seeds) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	return errors.Join(s.store.Delete(ctx, seedKey), s.store.Delete(ctx, userIDKey))
}

// persist must be called with s.mu held.
func (s *Seeds) persist(ctx context.Context, seed uint64) (uint64, error) {
	if err := s.store.Set(ctx, seedKey, []byte(strconv.FormatUint(seed, 10))); err != nil {
		return 0, fmt.Errorf("save seed: %w", err)
	}
	s.cached = &seed
	return seed, nil
}
