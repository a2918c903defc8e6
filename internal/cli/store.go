package cli

import (
	"errors"
	"fmt"

	"github.com/aretw0/tickvm/internal/config"
	"github.com/aretw0/tickvm/pkg/adapters/file"
	"github.com/aretw0/tickvm/pkg/adapters/memory"
	"github.com/aretw0/tickvm/pkg/adapters/redis"
	"github.com/aretw0/tickvm/pkg/adapters/sqlite"
	"github.com/aretw0/tickvm/pkg/persistence/middleware"
	"github.com/aretw0/tickvm/pkg/ports"
)

// DefaultSQLitePath is used when store.kind is sqlite and no path is set.
const DefaultSQLitePath = "tickvm.db"

// Backend is an opened snapshot store plus the lock service that goes with
// it, if any.
type Backend struct {
	Store  ports.SnapshotStore
	Locker ports.DistributedLocker

	closers []func() error
}

// Close releases the connections held by the backend.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// OpenStore builds the store described by cfg. An encryption key wraps the
// store in the AES-GCM middleware.
func OpenStore(cfg config.StoreConfig) (*Backend, error) {
	b := &Backend{}
	switch cfg.Kind {
	case "", "memory":
		b.Store = memory.NewStore()
	case "file":
		b.Store = file.New(cfg.Path)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		b.Store = s
		b.closers = append(b.closers, s.Close)
	case "redis":
		prefix := cfg.Redis.Prefix
		if prefix == "" {
			prefix = redis.DefaultPrefix
		}
		s := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		b.Store = s
		b.Locker = redis.NewLocker(s.Client(), prefix)
		b.closers = append(b.closers, s.Close)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}

	if cfg.EncryptionKey != "" {
		key, err := middleware.ParseKey(cfg.EncryptionKey)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		b.Store = middleware.Chain(b.Store, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return b, nil
}
