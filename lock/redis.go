package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/booking-engine/logging"
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// =============================================================================
// REDIS - SET NX PX lock shared across replicas
// =============================================================================

type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  *logging.Logger
}

type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder can block a key. A live holder
// renews its key every third of the TTL until it releases.
func WithTTL(ttl time.Duration) RedisOption { return func(r *Redis) { r.ttl = ttl } }

// WithWait bounds how long Acquire retries before ErrTimeout.
func WithWait(wait time.Duration) RedisOption { return func(r *Redis) { r.wait = wait } }

func WithPrefix(prefix string) RedisOption { return func(r *Redis) { r.prefix = prefix } }

func WithLogger(logger *logging.Logger) RedisOption { return func(r *Redis) { r.logger = logger } }

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  "booking:lock:",
		ttl:     30 * time.Second,
		wait:    5 * time.Second,
		backoff: 25 * time.Millisecond,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire retries SET NX until it wins, the wait elapses, or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(r.backoff):
		case <-ctx.Done():
			return nil, ErrTimeout
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, r.client, []string{k}, token).Err(); err != nil {
				r.logger.Warn("release lock failed", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive renews the key until stop is closed. If the key no longer holds
// token the lock is gone and the holder is no longer exclusive; that is
// logged and renewal ends.
func (r *Redis) keepAlive(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := r.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := extendScript.Run(ctx, r.client, []string{k}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn("renew lock failed", "key", k, "error", err)
				continue
			}
			if n == 0 {
				r.logger.Warn("lock lost before release", "key", k)
				return
			}
		}
	}
}
