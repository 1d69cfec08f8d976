package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ domain.ItemLocker = (*RedisItemLocker)(nil)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds the connection settings for RedisItemLocker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a crashed holder can keep an item locked.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	Prefix        string
}

// RedisItemLocker serializes item mutations across participant instances
// sharing one database.
type RedisItemLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisItemLocker connects to Redis and checks it answers.
func NewRedisItemLocker(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisItemLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}

	return newRedisItemLocker(client, cfg, logger), nil
}

func newRedisItemLocker(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisItemLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "inventory:item-lock:"
	}
	return &RedisItemLocker{
		client: client,
		ttl:    cfg.TTL,
		retry:  cfg.RetryInterval,
		prefix: cfg.Prefix,
		logger: logger,
	}
}

// Lock polls SET NX until it owns the item key or ctx is done.
func (l *RedisItemLocker) Lock(ctx context.Context, itemID int64) (func(), error) {
	key := l.prefix + strconv.FormatInt(itemID, 10)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.Wrapf(err, "failed to acquire lock for item %d", itemID)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisItemLocker) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be cancelled; the lock must still go.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release item lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// Close closes the Redis client.
func (l *RedisItemLocker) Close() error {
	return l.client.Close()
}
