package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates access to a session across multiple
// processes, so that two replicas never tick the same session at once.
type DistributedLocker interface {
	// Lock acquires the lock for key (a session ID). It blocks until the lock
	// is acquired or ctx is done; ttl bounds how long a crashed holder can
	// keep it. The returned UnlockFunc MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
