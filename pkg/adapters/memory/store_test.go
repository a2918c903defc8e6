package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/tickvm/pkg/adapters/memory"
	"github.com/aretw0/tickvm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSnapshotStoreContract(t, store)
}

func TestMemoryStore_ListIsSortedAndSized(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, "b", []byte("22")))
	require.NoError(t, store.Save(ctx, "a", []byte("1")))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, 3, store.Size())
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.NewStore()
	assert.ErrorIs(t, store.Save(ctx, "x", nil), context.Canceled)
}
