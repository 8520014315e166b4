package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "attr:traitfusion:1:level")
	assert.ErrorIs(t, err, ErrCacheMiss)

	value := []byte{0x01}
	require.NoError(t, c.Set(ctx, "attr:traitfusion:1:level", value, time.Minute))
	value[0] = 0xff

	got, err := c.Get(ctx, "attr:traitfusion:1:level")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
	got[0] = 0xee

	got, err = c.Get(ctx, "attr:traitfusion:1:level")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	stats := c.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestMemoryCache_ExpiryAndDelete(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("x"), -time.Second))
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "b", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("x"), time.Minute))
	require.NoError(t, c.Delete(ctx, "b", "c", "missing"))
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "d", []byte("x"), time.Minute))
	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Stats().Entries)
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	c := NewMemoryCache()
	c.Close()
	c.Close()
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, "none", c.Stats().Backend)
}
