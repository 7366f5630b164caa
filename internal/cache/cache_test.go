package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestGetSetRoundtrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type entry struct {
		Email string `json:"email"`
	}
	require.NoError(t, c.Set(ctx, UserMailboxesKey("u1"), []entry{{Email: "a@b.c"}}, time.Minute))

	var got []entry
	ok, err := c.Get(ctx, UserMailboxesKey("u1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a@b.c", got[0].Email)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)
	var dest string
	ok, err := c.Get(context.Background(), RootDomainKey(), &dest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteInvalidates(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, PostmasterKey(), "postmaster@mailflow.dev", 0))
	require.NoError(t, c.Delete(ctx, PostmasterKey()))

	var dest string
	ok, err := c.Get(ctx, PostmasterKey(), &dest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, BlacklistGroupKey("192.0"), "x", 24*time.Hour))
	mr.FastForward(25 * time.Hour)

	var dest string
	ok, err := c.Get(ctx, BlacklistGroupKey("192.0"), &dest)
	require.NoError(t, err)
	require.False(t, ok)
}
