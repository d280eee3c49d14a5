package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/squad-optimizer/pkg/logger"
)

func newTestRedis(t *testing.T, policy Policy) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "squad", policy, logger.Discard()), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestRedis(t, Policy{MaxAge: time.Hour})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "optimization:abc", map[string]int{"nodes": 42}))
	assert.True(t, mr.Exists("squad:optimization:abc"))
	assert.Equal(t, time.Hour, mr.TTL("squad:optimization:abc"))

	var got map[string]int
	found, err := c.Get(ctx, "optimization:abc", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"nodes": 42}, got)

	require.NoError(t, c.Delete(ctx, "optimization:abc"))
	assert.False(t, mr.Exists("squad:optimization:abc"))
	found, err = c.Get(ctx, "optimization:abc", &got)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, c.Ping(ctx))
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newTestRedis(t, Policy{MaxAge: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))
	mr.FastForward(time.Minute + time.Second)

	var v string
	found, err := c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheChecksStoredAt(t *testing.T) {
	c, mr := newTestRedis(t, Policy{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))
	assert.Equal(t, time.Duration(0), mr.TTL("squad:k"))

	// a reader with a shorter policy than the writer treats the entry as stale
	short := NewRedisCache(c.client, "squad", Policy{MaxAge: time.Nanosecond}, logger.Discard())
	time.Sleep(time.Millisecond)
	var v string
	found, err := short.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = c.Get(ctx, "k", &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestRedisCacheErrors(t *testing.T) {
	c, mr := newTestRedis(t, Policy{})
	ctx := context.Background()

	require.NoError(t, mr.Set("squad:bad", "not json"))
	var v string
	_, err := c.Get(ctx, "bad", &v)
	assert.Error(t, err)

	assert.Error(t, c.Set(ctx, "k", make(chan int)))

	mr.Close()
	_, err = c.Get(ctx, "k", &v)
	assert.Error(t, err)
	assert.Error(t, c.Ping(ctx))

	_, err = Connect(ctx, "not a url")
	assert.Error(t, err)
}
