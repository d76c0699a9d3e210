package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StatusCache keeps order status in redis. A cache error is logged and
// treated as a miss: postgres stays the source of truth.
type StatusCache struct {
	RDB redis.Cmdable
	TTL time.Duration
	Log *zap.Logger
}

var _ orders.StatusCache = (*StatusCache)(nil)

func NewStatusCache(rdb redis.Cmdable, log *zap.Logger) *StatusCache {
	return &StatusCache{RDB: rdb, TTL: TTLStatusCache, Log: log}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.Status, bool) {
	v, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.Log.Warn("status cache get", zap.String("order_id", orderID), zap.Error(err))
		return "", false
	}
	s := orders.Status(v)
	if !s.Valid() {
		return "", false
	}
	return s, true
}

func (c *StatusCache) Set(ctx context.Context, orderID string, s orders.Status) {
	if err := c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), string(s), c.TTL).Err(); err != nil {
		c.Log.Warn("status cache set", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Fill stores s only when no status is cached yet (SET NX).
func (c *StatusCache) Fill(ctx context.Context, orderID string, s orders.Status) {
	if err := c.RDB.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, orderID), string(s), c.TTL).Err(); err != nil {
		c.Log.Warn("status cache fill", zap.String("order_id", orderID), zap.Error(err))
	}
}
