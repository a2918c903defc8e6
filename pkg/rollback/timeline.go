package rollback

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/aretw0/tickvm/internal/logging"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/history"
	"github.com/aretw0/tickvm/pkg/sandbox"
)

// Frame is the recorded input of one tick.
type Frame struct {
	Tick   uint64
	Delta  time.Duration
	Inputs []domain.Response
}

// Timeline records every tick it runs so that any tick still in its window
// can be re-simulated with corrected inputs. A snapshot is kept every
// SnapshotEvery ticks; rollback restores the nearest one and replays.
// It is not safe for concurrent use.
type Timeline struct {
	live   *sandbox.Runtime
	frames *history.History[Frame]
	snaps  map[uint64]*sandbox.Runtime
	base   uint64
	every  uint64
	logger *slog.Logger
}

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithSnapshotEvery sets the snapshot interval in ticks.
func WithSnapshotEvery(n uint64) TimelineOption {
	return func(t *Timeline) {
		if n > 0 {
			t.every = n
		}
	}
}

// WithLogger sets the timeline logger.
func WithLogger(logger *slog.Logger) TimelineOption {
	return func(t *Timeline) {
		t.logger = logger
	}
}

// NewTimeline starts recording at rt's current tick. It takes ownership of rt.
func NewTimeline(rt *sandbox.Runtime, opts ...TimelineOption) (*Timeline, error) {
	t := &Timeline{
		live:   rt,
		frames: history.New[Frame](rt.Tick()),
		snaps:  make(map[uint64]*sandbox.Runtime),
		base:   rt.Tick(),
		every:  8,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.snapshot(rt); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Timeline) snapshot(rt *sandbox.Runtime) error {
	return t.snapshotInto(t.snaps, rt)
}

func (t *Timeline) snapshotInto(dst map[uint64]*sandbox.Runtime, rt *sandbox.Runtime) error {
	tick := rt.Tick()
	if (tick-t.base)%t.every != 0 {
		return nil
	}
	dup, err := rt.Duplicate()
	if err != nil {
		return fmt.Errorf("snapshot tick %d: %w", tick, err)
	}
	dst[tick] = dup
	return nil
}

// Runtime is the live runtime at the head of the timeline.
func (t *Timeline) Runtime() *sandbox.Runtime { return t.live }

// Head is the tick the next Advance will run.
func (t *Timeline) Head() uint64 { return t.frames.End() }

// Advance runs one tick with the given inputs and records it.
func (t *Timeline) Advance(dt time.Duration, inputs []domain.Response) ([]domain.Call, error) {
	tick := t.live.Tick()
	if err := t.snapshot(t.live); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		t.live.Send(in)
	}
	calls, err := t.live.RunTick(dt)
	if err != nil {
		return nil, err
	}
	t.frames.Append(Frame{Tick: tick, Delta: dt, Inputs: slices.Clone(inputs)})
	return calls, nil
}

// Rollback replaces the inputs of tick with inputs and re-simulates from
// there to the head. It returns the recomputed calls of every tick from
// tick on, oldest first. Ticks outside the window fail with a
// *domain.PreconditionError. If the replay fails the timeline is left
// exactly as it was.
func (t *Timeline) Rollback(tick uint64, inputs []domain.Response) ([][]domain.Call, error) {
	if tick >= t.frames.End() {
		return nil, &domain.PreconditionError{Op: "rollback", Reason: fmt.Sprintf("tick %d has not run yet (head %d)", tick, t.frames.End())}
	}
	if tick < t.frames.Base() {
		return nil, fmt.Errorf("rollback to %d: %w", tick, history.ErrEvicted)
	}
	from := t.nearestSnapshot(tick)
	recorded, err := t.frames.Since(from)
	if err != nil {
		return nil, fmt.Errorf("rollback to %d: %w", tick, err)
	}
	frames := slices.Clone(recorded)
	frames[tick-from].Inputs = slices.Clone(inputs)

	rt, err := t.snaps[from].Duplicate()
	if err != nil {
		return nil, err
	}
	staged := make(map[uint64]*sandbox.Runtime)
	var out [][]domain.Call
	for _, fr := range frames {
		if fr.Tick != from {
			if err := t.snapshotInto(staged, rt); err != nil {
				return nil, err
			}
		}
		for _, in := range fr.Inputs {
			rt.Send(in)
		}
		calls, err := rt.RunTick(fr.Delta)
		if err != nil {
			return nil, fmt.Errorf("replay tick %d: %w", fr.Tick, err)
		}
		if fr.Tick >= tick {
			out = append(out, calls)
		}
	}

	if err := t.frames.Truncate(tick); err != nil {
		return nil, err
	}
	for _, fr := range frames[tick-from:] {
		t.frames.Append(fr)
	}
	maps.Copy(t.snaps, staged)
	t.live = rt
	t.logger.Debug("rolled back", "tick", tick, "from_snapshot", from, "replayed", len(frames))
	return out, nil
}

// nearestSnapshot is the newest snapshot at or before tick, which always
// exists for ticks inside the window.
func (t *Timeline) nearestSnapshot(tick uint64) uint64 {
	best, found := uint64(0), false
	for s := range t.snaps {
		if s <= tick && (!found || s > best) {
			best, found = s, true
		}
	}
	if !found {
		return t.frames.Base()
	}
	return best
}

// Ack declares every tick before tick final. History and snapshots older
// than the newest snapshot at or before tick are released; ticks from that
// snapshot on can still be rolled back.
func (t *Timeline) Ack(tick uint64) {
	if tick > t.frames.End() {
		tick = t.frames.End()
	}
	keep := t.nearestSnapshot(tick)
	for s := range t.snaps {
		if s < keep {
			delete(t.snaps, s)
		}
	}
	t.frames.Ack(keep)
}

// Window reports the oldest and next tick of the rollback window.
func (t *Timeline) Window() (oldest, head uint64) {
	return t.frames.Base(), t.frames.End()
}

// Frames returns the recorded frames from tick on.
func (t *Timeline) Frames(tick uint64) ([]Frame, error) {
	return t.frames.Since(tick)
}
