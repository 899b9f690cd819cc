package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offlineCache never reaches a server; only paths that fail before any
// round trip may use it.
func offlineCache(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.Password = "pw"
	cfg.DB = 2

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
}

func TestConfig_OptionsFromURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@redis.internal:6380/4"

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 4, opts.DB)

	cfg.URL = "http://not-redis"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "names:-1001", NamesKey(-1001))
	assert.Equal(t, "lock:job:monthly-rollover", LockKey("job:monthly-rollover"))
}

func TestCache_ValidatesBeforeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := offlineCache(t)

	_, err := c.AcquireLease(ctx, "", "token", time.Minute)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	_, err = c.AcquireLease(ctx, "job:x", "token", 0)
	assert.ErrorIs(t, err, ErrCacheInvalidTTL)

	assert.ErrorIs(t, c.HSetWithTTL(ctx, "", "1", "Ana", time.Minute), ErrCacheKeyEmpty)

	_, err = c.HGetString(ctx, "", "1")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	got, err := c.HMGetStrings(ctx, "names:1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNameCache_IgnoresBlankNames(t *testing.T) {
	names := NewNameCache(offlineCache(t))
	assert.NoError(t, names.RememberName(context.Background(), -100, 7, "   "))
}
