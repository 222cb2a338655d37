package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

func openTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := OpenSQLite(filepath.Join(t.TempDir(), "pam", "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": openTestSQLite(t),
	}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store := NewTokenStore(storage)
			want := Session{Access: "A1", Refresh: "R1"}

			require.NoError(t, store.Save(t.Context(), want))
			got, ok, err := store.Load(t.Context())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)

			replacement := Session{Access: "A2", Refresh: "R2"}
			require.NoError(t, store.Save(t.Context(), replacement))
			got, _, err = store.Load(t.Context())
			require.NoError(t, err)
			assert.Equal(t, replacement, got)
		})
	}
}

func TestTokenStoreClear(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store := NewTokenStore(storage)
			require.NoError(t, store.Save(t.Context(), Session{Access: "A1", Refresh: "R1"}))

			require.NoError(t, store.Clear(t.Context()))
			require.NoError(t, store.Clear(t.Context()), "clearing twice is fine")

			_, ok, err := store.Load(t.Context())
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTokenStoreRejectsPartialSession(t *testing.T) {
	store := NewTokenStore(NewMemoryStorage())
	err := store.Save(t.Context(), Session{Access: "A1"})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestTokenStoreDiscardsCorruptEntry(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(t.Context(), StorageKey, "{not json"))

	_, ok, err := NewTokenStore(storage).Load(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)

	_, present, _ := storage.Get(t.Context(), StorageKey)
	assert.False(t, present)
}

func TestSQLiteSessionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, NewTokenStore(first).Save(t.Context(), Session{Access: "A1", Refresh: "R1"}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	got, ok, err := NewTokenStore(second).Load(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A1", got.Access)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestSiteNames(t *testing.T) {
	storage := NewMemoryStorage()
	names := NewSiteNames(storage)

	require.NoError(t, names.Remember(t.Context(), "DEV-7", "Oslo-North"))
	require.NoError(t, names.Remember(t.Context(), "DEV-8", " "))

	site, ok, err := names.Lookup(t.Context(), "DEV-7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Oslo-North", site)

	raw, _, _ := storage.Get(t.Context(), "site_name_for_DEV-7")
	assert.Equal(t, "Oslo-North", raw)

	_, ok, err = names.Lookup(t.Context(), "DEV-8")
	require.NoError(t, err)
	assert.False(t, ok)
}
