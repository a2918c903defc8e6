package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/tickvm/internal/logging"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/ids"
	"github.com/aretw0/tickvm/pkg/ports"
	"github.com/aretw0/tickvm/pkg/sandbox"
)

// DefaultLockTTL bounds how long a crashed replica can hold a session.
const DefaultLockTTL = 30 * time.Second

// PlayerID identifies a player joined to a session.
type PlayerID uint32

// Info summarizes a stored session.
type Info struct {
	ID            string `json:"id"`
	Tick          uint64 `json:"tick"`
	MemoryBytes   int    `json:"memory_bytes"`
	SnapshotBytes int    `json:"snapshot_bytes"`
}

// TickResult is the outcome of one session tick.
type TickResult struct {
	Tick  uint64        `json:"tick"`
	Calls []domain.Call `json:"calls"`
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu      sync.Mutex
	locks   map[string]*lockEntry
	players map[string]*ids.Source[PlayerID]

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
	runtime []sandbox.Option
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRuntimeOptions are applied to every runtime the manager loads or restores.
func WithRuntimeOptions(opts ...sandbox.Option) Option {
	return func(m *Manager) {
		m.runtime = append(m.runtime, opts...)
	}
}

// NewManager creates a new session manager over the given snapshot store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		players: make(map[string]*ids.Source[PlayerID]),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes fn while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// exists reports whether the store holds sessionID. Call under its lock.
func (m *Manager) exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := m.store.Load(ctx, sessionID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check session existence: %w", err)
}

func (m *Manager) save(ctx context.Context, sessionID string, rt *sandbox.Runtime) (Info, error) {
	snap, err := rt.Serialize()
	if err != nil {
		return Info{}, err
	}
	if err := m.store.Save(ctx, sessionID, snap); err != nil {
		return Info{}, fmt.Errorf("failed to save session: %w", err)
	}
	return Info{ID: sessionID, Tick: rt.Tick(), MemoryBytes: rt.MemorySize(), SnapshotBytes: len(snap)}, nil
}

func (m *Manager) restore(ctx context.Context, sessionID string) (*sandbox.Runtime, error) {
	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With("session_id", sessionID)
	opts := append([]sandbox.Option{sandbox.WithLogger(logger)}, m.runtime...)
	return sandbox.Deserialize(snap, opts...)
}

// Create loads program as a new session. It fails with
// domain.ErrSessionExists if the ID is taken.
func (m *Manager) Create(ctx context.Context, sessionID string, program []byte) (Info, error) {
	if sessionID == "" {
		return Info{}, errors.New("sessionID cannot be empty")
	}
	var info Info
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		found, err := m.exists(ctx, sessionID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("create %s: %w", sessionID, domain.ErrSessionExists)
		}
		opts := append([]sandbox.Option{sandbox.WithLogger(m.logger.With("session_id", sessionID))}, m.runtime...)
		rt, err := sandbox.Load(program, opts...)
		if err != nil {
			return err
		}
		info, err = m.save(ctx, sessionID, rt)
		return err
	})
	if err == nil {
		m.logger.Info("session created", "session_id", sessionID, "memory_bytes", info.MemoryBytes)
	}
	return info, err
}

// Tick delivers inputs to the session and runs one tick of length dt.
// A failed tick is not persisted: the session stays at its last good state.
func (m *Manager) Tick(ctx context.Context, sessionID string, dt time.Duration, inputs []domain.Response) (TickResult, error) {
	var res TickResult
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		rt, err := m.restore(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			rt.Send(in)
		}
		res.Tick = rt.Tick()
		res.Calls, err = rt.RunTick(dt)
		if err != nil {
			return err
		}
		_, err = m.save(ctx, sessionID, rt)
		return err
	})
	if err != nil {
		m.logger.Warn("session tick failed", "session_id", sessionID, "tick", res.Tick, "err", err)
		return TickResult{}, err
	}
	m.logger.Debug("session ticked", "session_id", sessionID, "tick", res.Tick, "calls", len(res.Calls))
	return res, nil
}

// Fork copies the session src into a new session dst. The two evolve
// independently afterwards.
func (m *Manager) Fork(ctx context.Context, src, dst string) (Info, error) {
	if dst == "" {
		return Info{}, errors.New("fork target cannot be empty")
	}
	if src == dst {
		return Info{}, fmt.Errorf("fork %s onto itself: %w", src, domain.ErrSessionExists)
	}
	var rt *sandbox.Runtime
	err := m.WithLock(ctx, src, func(ctx context.Context) error {
		var err error
		rt, err = m.restore(ctx, src)
		return err
	})
	if err != nil {
		return Info{}, err
	}
	dup, err := rt.Duplicate()
	if err != nil {
		return Info{}, err
	}

	var info Info
	err = m.WithLock(ctx, dst, func(ctx context.Context) error {
		found, err := m.exists(ctx, dst)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("fork into %s: %w", dst, domain.ErrSessionExists)
		}
		info, err = m.save(ctx, dst, dup)
		return err
	})
	return info, err
}

// Snapshot returns the session's serialized runtime.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) ([]byte, error) {
	var snap []byte
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		snap, err = m.store.Load(ctx, sessionID)
		return err
	})
	return snap, err
}

// Inspect reads the session's snapshot header.
func (m *Manager) Inspect(ctx context.Context, sessionID string) (Info, error) {
	snap, err := m.Snapshot(ctx, sessionID)
	if err != nil {
		return Info{}, err
	}
	h, err := sandbox.ReadHeader(snap)
	if err != nil {
		return Info{}, err
	}
	return Info{ID: sessionID, Tick: h.Tick, MemoryBytes: h.MemoryBytes, SnapshotBytes: len(snap)}, nil
}

// Delete removes the session from the store and forgets its players.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
	if err == nil {
		m.mu.Lock()
		delete(m.players, sessionID)
		m.mu.Unlock()
	}
	return err
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// Join allocates a player id in the session. Ids of players that left are
// handed out again, most recent first. Player ids are tracked by this
// process only.
func (m *Manager) Join(ctx context.Context, sessionID string) (PlayerID, error) {
	var id PlayerID
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		found, err := m.exists(ctx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrSessionNotFound
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		src, ok := m.players[sessionID]
		if !ok {
			src = &ids.Source[PlayerID]{}
			m.players[sessionID] = src
		}
		id, err = src.TryAlloc()
		return err
	})
	return id, err
}

// Leave releases a player id.
func (m *Manager) Leave(sessionID string, player PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.players[sessionID]
	if !ok || !src.Allocated(player) {
		return fmt.Errorf("leave %s player %d: %w", sessionID, player, domain.ErrUnknownPlayer)
	}
	src.Free(player)
	return nil
}
