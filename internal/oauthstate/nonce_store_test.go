package oauthstate

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/pkg/sealbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSealer(t *testing.T, secret string) sealbox.Sealer {
	t.Helper()
	s, err := sealbox.New(secret, sealPurpose)
	require.NoError(t, err)
	return s
}

func TestMemoryNonceStorePerEntryExpiry(t *testing.T) {
	fake := clock.NewFakeClock(testNow)
	store := NewMemoryNonceStore(fake)
	ctx := context.Background()

	ok, err := store.Consume(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	fake.Advance(30 * time.Second)
	ok, err = store.Consume(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	fake.Advance(30 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	ok, err = store.Consume(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "b is still inside its own window")

	fake.Advance(30 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryNonceStoreRejectsBadInput(t *testing.T) {
	store := NewMemoryNonceStore(clock.NewFakeClock(testNow))

	_, err := store.Consume(context.Background(), "", time.Minute)
	assert.Error(t, err)
	_, err = store.Consume(context.Background(), "a", 0)
	assert.Error(t, err)
}

func TestMemoryNonceStoreConcurrentConsume(t *testing.T) {
	store := NewMemoryNonceStore(clock.NewFakeClock(testNow))
	ctx := context.Background()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Consume(ctx, "shared", time.Minute); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestRedisNonceStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisNonceStore(client)
	ctx := context.Background()

	nonce, err := newNonce()
	require.NoError(t, err)

	ok, err := store.Consume(ctx, nonce, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, nonce, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.PTTL(ctx, "oauth:state:nonce:"+nonce).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
