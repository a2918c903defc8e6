package history_test

import (
	"testing"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window() *history.History[string] {
	h := history.New[string](7)
	for _, ev := range []string{"a", "b", "c"} {
		h.Append(ev)
	}
	return h
}

func TestSince(t *testing.T) {
	h := window()

	got, err := h.Since(8)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got)

	got, err = h.Since(7)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = h.Since(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSinceOutsideWindow(t *testing.T) {
	h := window()

	_, err := h.Since(6)
	assert.ErrorIs(t, err, history.ErrEvicted)
	var pe *domain.PreconditionError
	assert.ErrorAs(t, err, &pe)

	_, err = h.Since(11)
	assert.ErrorIs(t, err, history.ErrFutureSequence)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestSinceSliceCannotClobberWindow(t *testing.T) {
	h := window()
	got, err := h.Since(8)
	require.NoError(t, err)
	_ = append(got, "x")

	h.Append("d")
	all, err := h.Since(7)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, all)
}

func TestAppendReturnsSequence(t *testing.T) {
	h := history.New[int](0)
	assert.Equal(t, uint64(0), h.Append(10))
	assert.Equal(t, uint64(1), h.Append(11))
	v, ok := h.At(1)
	assert.True(t, ok)
	assert.Equal(t, 11, v)
	_, ok = h.At(2)
	assert.False(t, ok)
}

func TestAck(t *testing.T) {
	h := window()

	h.Ack(5)
	assert.Equal(t, uint64(7), h.Base(), "ack below base is a no-op")

	h.Ack(9)
	assert.Equal(t, uint64(9), h.Base())
	assert.Equal(t, uint64(10), h.End())
	_, err := h.Since(8)
	assert.ErrorIs(t, err, history.ErrEvicted)

	h.Ack(20)
	assert.Equal(t, uint64(20), h.Base())
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, uint64(20), h.Append("z"))
}

func TestTruncate(t *testing.T) {
	h := window()
	require.NoError(t, h.Truncate(8))
	assert.Equal(t, uint64(8), h.End())
	assert.Equal(t, uint64(8), h.Append("B"))

	got, err := h.Since(7)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "B"}, got)

	assert.ErrorIs(t, h.Truncate(3), history.ErrEvicted)
}
