package redisx

import "time"

const (
	// Cache of order status: order_status:{order_id} -> CachedStatus JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup for event/callback processing: dedup:{service}:{id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
