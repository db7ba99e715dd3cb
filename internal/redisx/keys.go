package redisx

import "time"

const (
	// Cache of an order's current status: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Dedup for event consumers: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Fast-path marker that a payment confirmation was already processed:
	// confirm:{order_id}. Postgres is the source of truth; this only
	// short-circuits repeat webhook deliveries.
	KeyConfirmSeen = "confirm:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLConfirm     = 24 * time.Hour
)
