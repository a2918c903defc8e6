package ids_test

import (
	"testing"

	"github.com/aretw0/tickvm/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocReusesFreedIDs(t *testing.T) {
	var s ids.Source[uint32]

	assert.Equal(t, uint32(0), s.Alloc())
	assert.Equal(t, uint32(1), s.Alloc())
	assert.Equal(t, uint32(2), s.Alloc())

	s.Free(1)
	assert.Equal(t, uint32(1), s.Alloc(), "freed id is handed out before minting")
	assert.Equal(t, uint32(3), s.Alloc())
	assert.Equal(t, 4, s.Live())
}

func TestFreedIDsAreLIFO(t *testing.T) {
	var s ids.Source[uint16]
	for range 5 {
		s.Alloc()
	}
	s.Free(0)
	s.Free(3)
	s.Free(2)

	assert.Equal(t, []uint16{2, 3, 0, 5}, []uint16{s.Alloc(), s.Alloc(), s.Alloc(), s.Alloc()})
	assert.Equal(t, uint16(6), s.Minted())
}

func TestStateRestore(t *testing.T) {
	var s ids.Source[uint64]
	s.Alloc()
	s.Alloc()
	s.Free(0)

	clone := ids.Restore(s.State())
	assert.Equal(t, s.Alloc(), clone.Alloc())
	assert.Equal(t, s.Alloc(), clone.Alloc())

	// independent after restore
	s.Free(2)
	assert.Equal(t, uint64(3), clone.Alloc())
}

func TestAllocated(t *testing.T) {
	var s ids.Source[uint32]
	assert.False(t, s.Allocated(0))
	a, b := s.Alloc(), s.Alloc()
	s.Free(a)
	assert.False(t, s.Allocated(a))
	assert.True(t, s.Allocated(b))
	assert.False(t, s.Allocated(7))
}

func TestExhaustedSourceNeverWraps(t *testing.T) {
	var s ids.Source[uint8]
	for i := range 255 {
		id, err := s.TryAlloc()
		require.NoError(t, err)
		require.Equal(t, uint8(i), id)
	}

	_, err := s.TryAlloc()
	assert.ErrorIs(t, err, ids.ErrExhausted)
	assert.Panics(t, func() { s.Alloc() })
	assert.Equal(t, 255, s.Live())
	assert.True(t, s.Allocated(0))

	s.Free(7)
	id, err := s.TryAlloc()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), id)
}
