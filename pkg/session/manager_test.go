package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tickvm/pkg/adapters/memory"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/dsl"
	"github.com/aretw0/tickvm/pkg/ports"
	"github.com/aretw0/tickvm/pkg/sandbox"
	"github.com/aretw0/tickvm/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 16 * time.Millisecond

func counter() []byte {
	b := dsl.New()
	n := b.Global("n")
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.Add(n, 1)
			f.Draw("count").At(n.IntAsFloat(), dsl.Float(0), dsl.Float(0)).Commit()
			f.Present()
		})
	})
	return b.MustBuild()
}

func trapsOnSecondTick() []byte {
	b := dsl.New()
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Draw("ok").Commit()
		f.Present()
		f.Trap(9)
	})
	return b.MustBuild()
}

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s SlowStore) Save(ctx context.Context, sessionID string, snapshot []byte) error {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Save(ctx, sessionID, snapshot)
}

func (s SlowStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Load(ctx, sessionID)
}

func drawnX(t *testing.T, calls []domain.Call) float32 {
	t.Helper()
	require.Len(t, calls, 1)
	return calls[0].(domain.DrawCall).Transform.Position[0]
}

func TestManager_CreateTickInspect(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()

	info, err := mgr.Create(ctx, "s1", counter())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.Tick)
	assert.Equal(t, "s1", info.ID)

	for want := 1; want <= 3; want++ {
		res, err := mgr.Tick(ctx, "s1", frame, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(want-1), res.Tick)
		assert.Equal(t, float32(want), drawnX(t, res.Calls))
	}

	info, err = mgr.Inspect(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Tick)
	assert.Equal(t, 1<<16, info.MemoryBytes)
	assert.Positive(t, info.SnapshotBytes)

	_, err = mgr.Create(ctx, "s1", counter())
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestManager_TickMissingSession(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	_, err := mgr.Tick(context.Background(), "ghost", frame, nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_CreateRejectsBadProgram(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	_, err := mgr.Create(context.Background(), "bad", []byte("junk"))
	assert.ErrorIs(t, err, domain.ErrLoad)

	ids, err := mgr.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManager_FailedTickIsNotPersisted(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Create(ctx, "s", trapsOnSecondTick())
	require.NoError(t, err)

	_, err = mgr.Tick(ctx, "s", frame, nil)
	require.NoError(t, err)

	for range 2 {
		_, err = mgr.Tick(ctx, "s", frame, nil)
		var te *domain.TickError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, domain.TickTrap, te.Kind)
	}

	info, err := mgr.Inspect(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Tick)
}

func TestManager_ForkIsIndependent(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Create(ctx, "origin", counter())
	require.NoError(t, err)
	_, err = mgr.Tick(ctx, "origin", frame, nil)
	require.NoError(t, err)

	_, err = mgr.Fork(ctx, "origin", "branch")
	require.NoError(t, err)
	for range 3 {
		_, err = mgr.Tick(ctx, "branch", frame, nil)
		require.NoError(t, err)
	}

	res, err := mgr.Tick(ctx, "origin", frame, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(2), drawnX(t, res.Calls))

	_, err = mgr.Fork(ctx, "origin", "branch")
	assert.ErrorIs(t, err, domain.ErrSessionExists)
	_, err = mgr.Fork(ctx, "nowhere", "x")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_SerializesConcurrentTicks(t *testing.T) {
	mgr := session.NewManager(SlowStore{memory.NewStore()})
	ctx := context.Background()
	_, err := mgr.Create(ctx, "race", counter())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Tick(ctx, "race", frame, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	info, err := mgr.Inspect(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), info.Tick, "a lost update means two ticks ran on the same snapshot")
}

func TestManager_DeliversInputs(t *testing.T) {
	b := dsl.New()
	x, y := b.Global("x"), b.Global("y")
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.PollMoves(x, y)
			f.Draw("p").At(x.Float(), y.Float(), dsl.Float(0)).Commit()
			f.Present()
		})
	})
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Create(ctx, "in", b.MustBuild())
	require.NoError(t, err)

	res, err := mgr.Tick(ctx, "in", frame, []domain.Response{
		domain.EventResponse{Event: domain.PlayerEvent{Kind: domain.EventMove, X: 3, Y: 4}},
	})
	require.NoError(t, err)
	require.Len(t, res.Calls, 1)
	assert.Equal(t, [3]float32{3, 4, 0}, res.Calls[0].(domain.DrawCall).Transform.Position)
}

func TestManager_Players(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Join(ctx, "none")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = mgr.Create(ctx, "p", counter())
	require.NoError(t, err)

	a, err := mgr.Join(ctx, "p")
	require.NoError(t, err)
	b, err := mgr.Join(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []session.PlayerID{0, 1}, []session.PlayerID{a, b})

	require.NoError(t, mgr.Leave("p", a))
	assert.ErrorIs(t, mgr.Leave("p", a), domain.ErrUnknownPlayer)

	c, err := mgr.Join(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestManager_RuntimeOptionsApply(t *testing.T) {
	var ticks int
	hooks := domain.LifecycleHooks{OnTickEnd: func(*domain.TickEvent) { ticks++ }}
	mgr := session.NewManager(memory.NewStore(), session.WithRuntimeOptions(sandbox.WithLifecycleHooks(hooks)))
	ctx := context.Background()
	_, err := mgr.Create(ctx, "h", counter())
	require.NoError(t, err)
	_, err = mgr.Tick(ctx, "h", frame, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ticks)
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	unlocks  int
	lastTTL  time.Duration
	failWith error
}

func (l *countingLocker) Lock(_ context.Context, _ string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.locks++
	l.lastTTL = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocks++
		return nil
	}, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &countingLocker{}
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Minute))
	ctx := context.Background()

	_, err := mgr.Create(ctx, "d", counter())
	require.NoError(t, err)
	_, err = mgr.Tick(ctx, "d", frame, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, locker.locks)
	assert.Equal(t, 2, locker.unlocks)
	assert.Equal(t, time.Minute, locker.lastTTL)

	locker.failWith = context.DeadlineExceeded
	_, err = mgr.Tick(ctx, "d", frame, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
