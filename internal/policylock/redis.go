package policylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if this holder still owns it.
// KEYS[1] = lock key, ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out if this holder still owns the lock.
// KEYS[1] = lock key, ARGV[1] = holder token, ARGV[2] = ttl in milliseconds
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockLost is logged when a held lock expired before release.
var ErrLockLost = errors.New("policylock: lock lost")

// RedisConfig configures a RedisLocker. Zero values take the defaults.
type RedisConfig struct {
	// Prefix is prepended to every key. Default "hoken:lock:".
	Prefix string
	// TTL bounds how long a crashed holder blocks others. Held locks are
	// extended every TTL/3. Default 30s.
	TTL time.Duration
	// PollInterval is the wait between acquisition attempts. Default 50ms.
	PollInterval time.Duration
}

// RedisLocker is a distributed lock using SET NX PX with a per-holder token.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker on an existing client.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, logger *slog.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "hoken:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

// Lock polls until key is acquired or ctx is done. While held, the lock's
// expiry is extended in the background; unlock stops the extension and
// releases the key if this holder still owns it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	full := l.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("policylock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(full, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL)
			defer cancel()
			n, err := releaseScript.Run(ctx, l.client, []string{full}, token).Int()
			switch {
			case err != nil:
				l.logger.Warn("policylock: release failed", "key", key, "error", err)
			case n == 0:
				l.logger.Warn("policylock: release", "key", key, "error", ErrLockLost)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}) {
	t := time.NewTicker(l.cfg.TTL / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/3)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("policylock: extend failed", "key", key, "error", err)
				continue
			}
			if n == 0 {
				l.logger.Error("policylock: extend", "key", key, "error", ErrLockLost)
				return
			}
		}
	}
}
