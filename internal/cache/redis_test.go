package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/domain"
)

func TestNewRedisCache(t *testing.T) {
	c := NewRedisCache(config.RedisConfig{Addr: "localhost:6379"}, time.Minute)
	assert.NotNil(t, c)
	assert.NoError(t, c.Close())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "cache:slots:t-1:2026-11-01", slotsKey("t-1", "2026-11-01"))
	assert.Equal(t, "cache:slots:t-1:2026-11-01:version", slotsVersionKey("t-1", "2026-11-01"))
	assert.Equal(t, "lock:payment:pay_1", paymentLockKey("pay_1"))
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = parseVersion("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = parseVersion("seven")
	assert.Error(t, err)
}

// liveRedis connects to DARSHAN_TEST_REDIS_ADDR and skips without it.
func liveRedis(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("DARSHAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DARSHAN_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	c := NewRedisCacheWithClient(client, time.Minute)
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_StaleWriteBackIsDropped(t *testing.T) {
	c := liveRedis(t)
	ctx := context.Background()
	temple, date := "stale-"+time.Now().Format("150405.000000"), "2026-11-01"
	t.Cleanup(func() {
		c.client.Del(ctx, slotsKey(temple, date), slotsVersionKey(temple, date))
	})

	slots, version, err := c.GetSlots(ctx, temple, date)
	require.NoError(t, err)
	assert.Nil(t, slots)

	// a booking lands between the read and the write-back
	require.NoError(t, c.InvalidateSlots(ctx, temple, date))

	stale := []domain.SlotAvailability{{Time: "06:00-07:00", RemainingCapacity: 10}}
	require.NoError(t, c.SetSlots(ctx, temple, date, stale, version))

	slots, fresh, err := c.GetSlots(ctx, temple, date)
	require.NoError(t, err)
	assert.Nil(t, slots, "stale listing must not be cached")
	assert.Equal(t, version+1, fresh)

	current := []domain.SlotAvailability{{Time: "06:00-07:00", RemainingCapacity: 9}}
	require.NoError(t, c.SetSlots(ctx, temple, date, current, fresh))
	slots, _, err = c.GetSlots(ctx, temple, date)
	require.NoError(t, err)
	assert.Equal(t, current, slots)
}

func TestRedisCache_PaymentLock(t *testing.T) {
	c := liveRedis(t)
	ctx := context.Background()
	key := "refund:pay_" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = c.ReleasePaymentLock(ctx, key) })

	ok, err := c.AcquirePaymentLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquirePaymentLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
