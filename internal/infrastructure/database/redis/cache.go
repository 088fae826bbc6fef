package redis

import (
	"context"
	stdliberrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/cache"
	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// DefaultKeyPrefix namespaces engine keys in a shared Redis.
const DefaultKeyPrefix = "geovalue:"

const scanBatch = 100

var _ cache.Durable = (*ResultCache)(nil)

// ResultCache is the durable tier of the engine's result cache. Values are
// opaque bytes; serialization happens in the caller.
type ResultCache struct {
	client *Client
	logger logging.Logger
	prefix string
}

type CacheOption func(*ResultCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *ResultCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func NewResultCache(client *Client, log logging.Logger, opts ...CacheOption) *ResultCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &ResultCache{client: client, logger: log, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResultCache) fullKey(key string) string {
	return c.prefix + key
}

// Get reports found=false on a miss.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.client.isClosed() {
		return nil, false, ErrClientClosed
	}
	data, err := c.client.rdb.Get(ctx, c.fullKey(key)).Bytes()
	if stdliberrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	return data, true, nil
}

// Set stores data for ttl. A zero ttl keeps the key until deleted.
func (c *ResultCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if c.client.isClosed() {
		return ErrClientClosed
	}
	if err := c.client.rdb.Set(ctx, c.fullKey(key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set cache")
	}
	return nil
}

// DeleteByPrefix scans for keys starting with prefix and deletes them in
// batches. It returns the number of keys deleted.
func (c *ResultCache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	if c.client.isClosed() {
		return 0, ErrClientClosed
	}
	var deleted int64
	var cursor uint64
	match := c.fullKey(prefix) + "*"
	for {
		keys, next, err := c.client.rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan cache keys")
		}
		if len(keys) > 0 {
			n, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("cache prefix deleted", logging.String("prefix", prefix), logging.Int64("keys", deleted))
	return deleted, nil
}
