package persistence

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewGraphStore creates a graph store for the configured backend. The Redis
// backend needs a client; the memory backend ignores it.
func NewGraphStore(config StoreConfig, client redis.UniversalClient, logger *zap.Logger) (GraphStore, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryGraphStore(config), nil
	case StoreTypeRedis, "":
		if client == nil {
			return nil, fmt.Errorf("redis graph store requires a redis client")
		}
		return NewRedisGraphStore(client, config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported graph store type: %s", config.Type)
	}
}
