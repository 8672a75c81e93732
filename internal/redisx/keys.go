package redisx

import "time"

const (
	// Order projection: order:{order_id} -> CachedOrder JSON
	KeyOrder = "order:%s"

	// Featured products listing, dropped whenever a rating changes.
	KeyFeaturedProducts = "products:featured"

	// Idempotency shortcut for order creation: idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Payment gateway bearer token.
	KeyPaymentToken = "payment:token"

	// Held while a cash-in is being initiated: payment:lock:{order_id} -> user_id
	KeyPaymentLock = "payment:lock:%s"

	// Job queue: list of ready jobs, list of in-flight jobs, zset of delayed
	// jobs scored by ready time (unix ms), list of exhausted jobs.
	KeyQueueWait    = "queue:%s:wait"
	KeyQueueActive  = "queue:%s:active"
	KeyQueueDelayed = "queue:%s:delayed"
	KeyQueueFailed  = "queue:%s:failed"
)

var (
	TTLOrderCache = time.Hour
	TTLFeatured   = 10 * time.Minute

	TTLIdempotency = 24 * time.Hour

	// longer than a gateway call including one re-auth
	TTLPaymentLock = time.Minute
)
