//go:build integration

package policylock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hoken/internal/testutil"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	rc := testutil.MustStartRedis()
	testRedis = redis.NewClient(&redis.Options{Addr: rc.DSN})
	code := m.Run()
	_ = testRedis.Close()
	rc.Terminate()
	os.Exit(code)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l := NewRedisLocker(testRedis, RedisConfig{TTL: 2 * time.Second, PollInterval: 5 * time.Millisecond}, testutil.TestLogger())
	ctx := context.Background()

	var (
		inside atomic.Int32
		broken atomic.Bool
		wg     sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "policy:mutex")
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				broken.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, broken.Load())
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	l := NewRedisLocker(testRedis, RedisConfig{TTL: time.Second}, testutil.TestLogger())
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "policy:owner")
	require.NoError(t, err)

	// Simulate expiry and takeover by another holder.
	require.NoError(t, testRedis.Set(ctx, "hoken:lock:policy:owner", "someone-else", time.Minute).Err())
	unlock()

	v, err := testRedis.Get(ctx, "hoken:lock:policy:owner").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
	require.NoError(t, testRedis.Del(ctx, "hoken:lock:policy:owner").Err())
}

func TestRedisLocker_KeepAliveOutlivesTTL(t *testing.T) {
	l := NewRedisLocker(testRedis, RedisConfig{TTL: 300 * time.Millisecond, PollInterval: 5 * time.Millisecond}, testutil.TestLogger())
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "policy:long")
	require.NoError(t, err)
	time.Sleep(900 * time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "policy:long")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := l.Lock(ctx, "policy:long")
	require.NoError(t, err)
	again()
}
