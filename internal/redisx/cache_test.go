package redisx_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

func newCache(t *testing.T) (*redisx.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return redisx.NewCache(rdb), mr
}

func TestCacheGetMissing(t *testing.T) {
	c, _ := newCache(t)
	v, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestCacheSetGetExpire(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	key := fmt.Sprintf(redisx.KeyOrder, "o-1")

	require.NoError(t, c.Set(ctx, key, `{"id":"o-1"}`, redisx.TTLOrderCache))
	v, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"o-1"}`, v)
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheDel(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, c.Del(ctx, "a", "b"))
	require.NoError(t, c.Del(ctx))

	exists, err := c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheSetNX(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	key := fmt.Sprintf(redisx.KeyPaymentLock, "o-1")

	ok, err := c.SetNX(ctx, key, "u1", redisx.TTLPaymentLock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, key, "u2", redisx.TTLPaymentLock)
	require.NoError(t, err)
	assert.False(t, ok)
	v, _, _ := c.Get(ctx, key)
	assert.Equal(t, "u1", v)

	mr.FastForward(redisx.TTLPaymentLock)
	ok, err = c.SetNX(ctx, key, "u2", redisx.TTLPaymentLock)
	require.NoError(t, err)
	assert.True(t, ok, "an abandoned lock expires")
}
