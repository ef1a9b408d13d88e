package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKey = "curatord:automation:lease"
	defaultTTL = 2 * time.Minute
)

// Release and refresh only act when the stored token still matches ours.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisConfig controls the distributed lease.
type RedisConfig struct {
	Key string
	TTL time.Duration
}

// Redis is a cross-process lease backed by SET NX PX, refreshed while held.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis builds a Redis lease.
func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Key == "" {
		cfg.Key = defaultKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, key: cfg.Key, ttl: cfg.TTL, logger: logger}, nil
}

// Acquire sets the lease key to owner if absent. The returned release stops the
// refresh loop and deletes the key when it is still ours. lost is closed when
// the key is found under another owner or could not be refreshed for a full TTL.
func (r *Redis) Acquire(ctx context.Context, owner string) (func(), <-chan struct{}, error) {
	if owner == "" {
		return nil, nil, errors.New("lease owner is required")
	}
	ok, err := r.client.SetNX(ctx, r.key, owner, r.ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire lease %s: %w", r.key, err)
	}
	if !ok {
		return nil, nil, ErrHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lost := make(chan struct{})
	go r.keepAlive(owner, stop, done, lost)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{r.key}, owner).Err(); err != nil {
				r.logger.Warn("release lease failed", zap.String("key", r.key), zap.Error(err))
			}
		})
	}, lost, nil
}

func (r *Redis) keepAlive(owner string, stop <-chan struct{}, done, lost chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	refreshed := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := refreshScript.Run(ctx, r.client, []string{r.key}, owner, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				if time.Since(refreshed) < r.ttl {
					r.logger.Warn("refresh lease failed", zap.String("key", r.key), zap.Error(err))
					continue
				}
				r.logger.Error("lease expired without refresh",
					zap.String("key", r.key), zap.String("owner", owner), zap.Error(err))
				close(lost)
				return
			}
			if n == 0 {
				r.logger.Error("lease lost to another owner", zap.String("key", r.key), zap.String("owner", owner))
				close(lost)
				return
			}
			refreshed = time.Now()
		}
	}
}

// Holder returns the current lease owner, or "" when free.
func (r *Redis) Holder(ctx context.Context) (string, error) {
	owner, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", r.key, err)
	}
	return owner, nil
}
