package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/tickvm/pkg/adapters/sqlite"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.SnapshotStore = (*sqlite.Store)(nil)

func open(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "sessions.sqlite")
	store, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSQLiteStore_Contract(t *testing.T) {
	store, _ := open(t)
	ports.RunSnapshotStoreContract(t, store)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	store, path := open(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "persist", []byte("state")))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, "persist")
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got)
}

func TestSQLiteStore_Stat(t *testing.T) {
	store, _ := open(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s", []byte("abc")))

	info, err := store.Stat(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", info.Digest)
	assert.False(t, info.UpdatedAt.IsZero())

	_, err = store.Stat(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	_, err := sqlite.Open("")
	assert.Error(t, err)
}
