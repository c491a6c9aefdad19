package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStatus is the document stored under KeyOrderStatus.
type CachedStatus struct {
	UserID        string `json:"user_id"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
}

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	_ = r.WithTimeout(2 * time.Second)
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// CacheOrderStatus stores the lightweight status document served by the
// read path. DB stays the source of truth; a stale or missing cache entry
// only costs a query.
func CacheOrderStatus(ctx context.Context, rdb *redis.Client, orderID, userID, orderStatus, paymentStatus string) error {
	key := fmt.Sprintf(KeyOrderStatus, orderID)
	body := fmt.Sprintf(`{"user_id":%q,"order_status":%q,"payment_status":%q}`, userID, orderStatus, paymentStatus)
	return rdb.Set(ctx, key, body, TTLStatusCache).Err()
}

// GetOrderStatus returns the cached status document, or ok=false on a
// miss or an unreadable entry.
func GetOrderStatus(ctx context.Context, rdb *redis.Client, orderID string) (CachedStatus, bool, error) {
	raw, err := rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if err == redis.Nil {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var doc CachedStatus
	if err := json.Unmarshal(raw, &doc); err != nil {
		return CachedStatus{}, false, nil
	}
	return doc, true, nil
}

func InvalidateOrderStatus(ctx context.Context, rdb *redis.Client, orderID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
