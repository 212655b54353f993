package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "tripwire.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLite_AppliesPragmasAndSchema(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripwire.db")
	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestSQLiteStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.Get(ctx, "seed")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "seed", []byte("42")))
	got, err := s.Get(ctx, "seed")
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), got)

	require.NoError(t, s.Set(ctx, "seed", []byte("43")))
	got, err = s.Get(ctx, "seed")
	require.NoError(t, err)
	assert.Equal(t, []byte("43"), got)

	require.NoError(t, s.Delete(ctx, "seed"))
	_, err = s.Get(ctx, "seed")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "seed"))

	assert.ErrorIs(t, s.Set(ctx, "", []byte("x")), ErrEmptyKey)
}

func TestSQLiteStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for _, k := range []string{"occurrences/b", "occurrences/a", "occurrences_x", "seed"} {
		require.NoError(t, s.Set(ctx, k, []byte("1")))
	}

	keys, err := s.Keys(ctx, "occurrences/")
	require.NoError(t, err)
	assert.Equal(t, []string{"occurrences/a", "occurrences/b"}, keys)

	// "_" must not act as a wildcard
	keys, err = s.Keys(ctx, "occurrences_")
	require.NoError(t, err)
	assert.Equal(t, []string{"occurrences_x"}, keys)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tripwire.db")
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	s1, err := OpenSQLite(path, WithClock(func() time.Time { return fixed }), WithBusyTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "assignments", []byte(`{"E1":"v1"}`)))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "assignments")
	require.NoError(t, err)
	assert.JSONEq(t, `{"E1":"v1"}`, string(got))

	var updated int64
	require.NoError(t, s2.db.QueryRow(`SELECT updated_at FROM kv WHERE key = 'assignments'`).Scan(&updated))
	assert.Equal(t, fixed.UnixMilli(), updated)
}
