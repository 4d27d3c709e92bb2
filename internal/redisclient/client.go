package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/coupon_gate.lua
var couponGateScript string

//go:embed scripts/coupon_restore.lua
var couponRestoreScript string

// Client is a thin Redis layer in front of the coupon register: a
// fast-fail quota gate under issuance spikes plus a short-lived payment
// idempotency cache. The store remains the source of truth; every answer
// here is advisory and the caller falls through to the store when Redis
// is unavailable or unsynced.
type Client struct {
	rdb           *redis.Client
	gateScript    *redis.Script
	restoreScript *redis.Script
}

// Gate outcomes for the coupon quota fast path.
const (
	GateUnsynced = -1
	GateClosed   = 0
	GateOpen     = 1
)

// NewClient connects to Redis and loads the quota scripts.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		gateScript:    redis.NewScript(couponGateScript),
		restoreScript: redis.NewScript(couponRestoreScript),
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func quotaKey(couponID int64) string {
	return fmt.Sprintf("coupon:quota:%d", couponID)
}

// InitCouponQuota seeds the quota counter for a coupon.
func (c *Client) InitCouponQuota(ctx context.Context, couponID int64, remaining int) error {
	return c.rdb.Set(ctx, quotaKey(couponID), remaining, 0).Err()
}

// TakeCouponQuota atomically takes one quota unit. GateClosed means the
// coupon is exhausted and the issue request can fail without touching the
// store; GateUnsynced means the caller must go to the store directly.
func (c *Client) TakeCouponQuota(ctx context.Context, couponID int64) (int, error) {
	result, err := c.gateScript.Run(ctx, c.rdb, []string{quotaKey(couponID)}).Result()
	if err != nil {
		return GateUnsynced, fmt.Errorf("coupon gate script failed: %w", err)
	}

	outcome, ok := result.(int64)
	if !ok {
		return GateUnsynced, fmt.Errorf("unexpected script result type %T", result)
	}
	return int(outcome), nil
}

// RestoreCouponQuota returns one quota unit taken by TakeCouponQuota,
// bounded by the coupon's total quantity.
func (c *Client) RestoreCouponQuota(ctx context.Context, couponID int64, totalQuantity int) error {
	_, err := c.restoreScript.Run(ctx, c.rdb, []string{quotaKey(couponID)}, totalQuantity).Result()
	if err != nil {
		return fmt.Errorf("coupon restore script failed: %w", err)
	}
	return nil
}

// CacheIdempotentPayment stores a payment id under a client request id so
// hot retries can short-circuit before the store lookup.
func (c *Client) CacheIdempotentPayment(ctx context.Context, clientRequestID, paymentID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", clientRequestID), paymentID, ttl).Err()
}

// LookupIdempotentPayment returns the cached payment id for a client
// request id, or "" when the key is absent.
func (c *Client) LookupIdempotentPayment(ctx context.Context, clientRequestID string) (string, error) {
	result, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", clientRequestID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

// AcquireLock acquires a best-effort distributed lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
