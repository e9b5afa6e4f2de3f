package redisx

import "time"

const (
	// Deadline autocancel: zset, member = order_id, score = unix deadline
	KeyAutocancelQueue = "paymongo:autocancel"

	// Argumen job autocancel: hash order_id -> order_key
	KeyAutocancelArgs = "paymongo:autocancel:args"

	// Dedup command processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Cache status pembayaran order: order:payment:{order_id}
	KeyOrderStatus = "order:payment:%d"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 10 * time.Second
)
