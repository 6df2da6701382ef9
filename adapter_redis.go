package datasource

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisAdapter stores serialized records in redis, sharing cache entries
// across processes. A ttl of zero or below leaves the key without expiry.
type RedisAdapter struct {
	client redis.Cmdable
}

func NewRedisAdapter(client redis.Cmdable) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (a *RedisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := a.client.Get(ctx, key)

	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.WithStack(err)
	}

	value, err := cmd.Bytes()
	if err != nil {
		return nil, false, errors.WithStack(err)
	}

	return value, true, nil
}

func (a *RedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}

	return errors.WithStack(a.client.Set(ctx, key, value, ttl).Err())
}

func (a *RedisAdapter) Delete(ctx context.Context, key string) error {
	return errors.WithStack(a.client.Del(ctx, key).Err())
}
