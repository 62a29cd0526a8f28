package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLease_SingleOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	first := NewLease(client, "idempotency-cleanup", "replica-a")
	second := NewLease(client, "idempotency-cleanup", "replica-b")

	ok, err := first.TryAcquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryAcquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease is held by replica-a")

	ok, err = first.TryAcquire(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner renews its lease")
	assert.Equal(t, 2*time.Minute, mr.TTL(leasePrefix+"idempotency-cleanup"))

	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists(leasePrefix+"idempotency-cleanup"), "foreign release is ignored")

	mr.FastForward(3 * time.Minute)
	ok, err = second.TryAcquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists(leasePrefix+"idempotency-cleanup"))
}

func TestLease_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewLease(client, "job", "me").TryAcquire(context.Background(), time.Second)
	assert.Error(t, err)
}
