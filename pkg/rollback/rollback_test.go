package rollback_test

import (
	"testing"
	"time"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/dsl"
	"github.com/aretw0/tickvm/pkg/rollback"
	"github.com/aretw0/tickvm/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 16 * time.Millisecond

func walker() []byte {
	b := dsl.New()
	x, y := b.Global("x"), b.Global("y")
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.PollMoves(x, y)
			f.FAdd(x, 1)
			f.Draw("walker").At(x.Float(), y.Float(), dsl.Float(0)).Commit()
			f.Present()
		})
	})
	return b.MustBuild()
}

func load(t *testing.T) *sandbox.Runtime {
	t.Helper()
	rt, err := sandbox.Load(walker())
	require.NoError(t, err)
	return rt
}

func move(x, y float32) []domain.Response {
	return []domain.Response{domain.EventResponse{Event: domain.PlayerEvent{Kind: domain.EventMove, X: x, Y: y}}}
}

func position(t *testing.T, calls []domain.Call) [3]float32 {
	t.Helper()
	require.Len(t, calls, 1)
	draw, ok := calls[0].(domain.DrawCall)
	require.True(t, ok)
	return draw.Transform.Position
}

func TestSaveState_RestoreReplaysIdentically(t *testing.T) {
	s := rollback.NewSaveState(load(t))
	_, err := s.Runtime().RunTick(frame)
	require.NoError(t, err)

	id, err := s.Save()
	require.NoError(t, err)

	first, err := s.Runtime().RunTick(frame)
	require.NoError(t, err)
	assert.Equal(t, [3]float32{2, 0, 0}, position(t, first))

	require.NoError(t, s.Restore(id))
	again, err := s.Runtime().RunTick(frame)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// the slot survives a restore
	require.NoError(t, s.Restore(id))
	assert.Equal(t, uint64(1), s.Runtime().Tick())
}

func TestSaveState_SlotsAreReused(t *testing.T) {
	s := rollback.NewSaveState(load(t))
	a, err := s.Save()
	require.NoError(t, err)
	b, err := s.Save()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	require.NoError(t, s.Drop(a))
	c, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, s.Len())
}

func TestSaveState_UnknownSlot(t *testing.T) {
	s := rollback.NewSaveState(load(t))
	assert.ErrorIs(t, s.Restore(9), domain.ErrUnknownSave)
	assert.ErrorIs(t, s.Drop(9), domain.ErrUnknownSave)
	_, err := s.MemorySize(9)
	assert.ErrorIs(t, err, domain.ErrUnknownSave)
}

func TestSaveState_TotalMemory(t *testing.T) {
	s := rollback.NewSaveState(load(t))
	one := s.TotalMemory()
	id, err := s.Save()
	require.NoError(t, err)
	size, err := s.MemorySize(id)
	require.NoError(t, err)
	assert.Equal(t, one, size)
	assert.Equal(t, 2*one, s.TotalMemory())
}

func TestTimeline_RollbackMatchesCorrectedRun(t *testing.T) {
	tl, err := rollback.NewTimeline(load(t), rollback.WithSnapshotEvery(2))
	require.NoError(t, err)
	for range 5 {
		_, err := tl.Advance(frame, nil)
		require.NoError(t, err)
	}

	// the input for tick 3 arrives late
	recomputed, err := tl.Rollback(3, move(50, 5))
	require.NoError(t, err)
	require.Len(t, recomputed, 2)
	assert.Equal(t, [3]float32{51, 5, 0}, position(t, recomputed[0]))
	assert.Equal(t, [3]float32{52, 5, 0}, position(t, recomputed[1]))

	reference := load(t)
	for i := range 5 {
		if i == 3 {
			for _, in := range move(50, 5) {
				reference.Send(in)
			}
		}
		_, err := reference.RunTick(frame)
		require.NoError(t, err)
	}
	want, err := reference.Serialize()
	require.NoError(t, err)
	got, err := tl.Runtime().Serialize()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(5), tl.Head())
}

// tripwire traps on the second tick that sees a non-zero pointer x.
func tripwire() []byte {
	b := dsl.New()
	x, y, armed := b.Global("x"), b.Global("y"), b.Global("armed")
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.PollMoves(x, y)
			f.If(x, func(f *dsl.Func) {
				f.If(armed, func(f *dsl.Func) { f.Trap(9) })
				f.Set(armed, dsl.Int(1))
			})
			f.Present()
		})
	})
	return b.MustBuild()
}

func TestTimeline_FailedRollbackLeavesTimelineIntact(t *testing.T) {
	rt, err := sandbox.Load(tripwire())
	require.NoError(t, err)
	tl, err := rollback.NewTimeline(rt, rollback.WithSnapshotEvery(2))
	require.NoError(t, err)
	for range 5 {
		_, err := tl.Advance(frame, nil)
		require.NoError(t, err)
	}
	before, err := tl.Runtime().Serialize()
	require.NoError(t, err)

	// the corrected input makes the replay trap at tick 2, after the
	// replay has passed the tick 2 snapshot point
	_, err = tl.Rollback(1, move(1, 0))
	require.ErrorIs(t, err, domain.ErrTick)

	frames, err := tl.Frames(1)
	require.NoError(t, err)
	assert.Empty(t, frames[0].Inputs)
	assert.Equal(t, uint64(5), tl.Head())
	after, err := tl.Runtime().Serialize()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// replays from the tick 2 snapshot still follow the recorded branch
	recomputed, err := tl.Rollback(3, nil)
	require.NoError(t, err)
	assert.Len(t, recomputed, 2)
	replayed, err := tl.Runtime().Serialize()
	require.NoError(t, err)
	assert.Equal(t, before, replayed)
}

func TestTimeline_RollbackOutsideWindow(t *testing.T) {
	tl, err := rollback.NewTimeline(load(t), rollback.WithSnapshotEvery(2))
	require.NoError(t, err)
	for range 6 {
		_, err := tl.Advance(frame, nil)
		require.NoError(t, err)
	}

	_, err = tl.Rollback(6, nil)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	tl.Ack(5)
	oldest, head := tl.Window()
	assert.Equal(t, uint64(4), oldest)
	assert.Equal(t, uint64(6), head)

	_, err = tl.Rollback(3, nil)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	_, err = tl.Rollback(4, move(1, 1))
	assert.NoError(t, err)
}

func TestTimeline_FramesRecordInputs(t *testing.T) {
	tl, err := rollback.NewTimeline(load(t))
	require.NoError(t, err)
	_, err = tl.Advance(frame, move(3, 4))
	require.NoError(t, err)
	_, err = tl.Advance(frame, nil)
	require.NoError(t, err)

	frames, err := tl.Frames(0)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(0), frames[0].Tick)
	assert.Len(t, frames[0].Inputs, 1)
	assert.Empty(t, frames[1].Inputs)
}
