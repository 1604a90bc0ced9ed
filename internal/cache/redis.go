package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/domain"
)

// slotsVersionTTL outlives any cached listing so an invalidation is
// remembered for as long as a stale write-back could still arrive.
const slotsVersionTTL = 48 * time.Hour

type RedisCache struct {
	client   *redis.Client
	slotsTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, slotsTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}), slotsTTL)
}

func NewRedisCacheWithClient(client *redis.Client, slotsTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, slotsTTL: slotsTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetSlots returns nil slots without error on a cache miss. The version
// must be handed back to SetSlots when the miss is filled.
func (c *RedisCache) GetSlots(ctx context.Context, templeID, date string) ([]domain.SlotAvailability, int64, error) {
	vals, err := c.client.MGet(ctx, slotsKey(templeID, date), slotsVersionKey(templeID, date)).Result()
	if err != nil {
		return nil, 0, err
	}

	version, err := parseVersion(vals[1])
	if err != nil {
		return nil, 0, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, nil
	}

	var slots []domain.SlotAvailability
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil, version, err
	}
	return slots, version, nil
}

// SetSlots stores slots only while the listing version still equals
// version. A listing invalidated after it was read is dropped silently.
func (c *RedisCache) SetSlots(ctx context.Context, templeID, date string, slots []domain.SlotAvailability, version int64) error {
	payload, err := json.Marshal(slots)
	if err != nil {
		return err
	}

	versionKey := slotsVersionKey(templeID, date)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleSlots
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, slotsKey(templeID, date), payload, c.slotsTTL)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, errStaleSlots) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateSlots bumps the listing version and drops the cached copy.
func (c *RedisCache) InvalidateSlots(ctx context.Context, templeID, date string) error {
	versionKey := slotsVersionKey(templeID, date)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, slotsVersionTTL)
		pipe.Del(ctx, slotsKey(templeID, date))
		return nil
	})
	return err
}

// AcquirePaymentLock is a try-lock on key with a ttl. It never blocks;
// false means another holder has it.
func (c *RedisCache) AcquirePaymentLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, paymentLockKey(key), "locked", ttl).Result()
}

func (c *RedisCache) ReleasePaymentLock(ctx context.Context, key string) error {
	return c.client.Del(ctx, paymentLockKey(key)).Err()
}

var errStaleSlots = errors.New("slot listing invalidated")

func parseVersion(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func slotsKey(templeID, date string) string {
	return fmt.Sprintf("cache:slots:%s:%s", templeID, date)
}

func slotsVersionKey(templeID, date string) string {
	return fmt.Sprintf("cache:slots:%s:%s:version", templeID, date)
}

func paymentLockKey(key string) string {
	return fmt.Sprintf("lock:payment:%s", key)
}
