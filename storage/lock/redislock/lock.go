package redislock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
)

const (
	DefaultTTL   = 30 * time.Second
	retryBackoff = 25 * time.Millisecond
)

// deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a core.Locker shared by every process using the same Redis server.
// A lock expires after its TTL if the holder dies without releasing it.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger core.Logger
}

var _ core.Locker = (*Locker)(nil)

// NewClient connects to Redis and checks that it answers.
func NewClient(conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

// New returns a Locker namespacing its keys under `prefix`. A zero `ttl` means DefaultTTL.
func New(client *redis.Client, prefix string, ttl time.Duration, logger core.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	key = l.prefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquiring %s", key)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}

	return func() {
		// release even if the caller's context is done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Error("releasing lock "+key, err)
		}
	}, nil
}
