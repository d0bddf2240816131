package redisx

import "time"

const (
	// Sliding-window request log: ratelimit:{identity}:{method}:{path} -> zset(ts)
	KeyRateLimit = "ratelimit:%s"

	// Checkout serialisation per buyer cart: lock:checkout:{buyer_id}:{cart_id}
	KeyCheckoutLock = "lock:checkout:%s:%s"

	// Single-flight periodic jobs: lock:job:{name}
	KeyJobLock = "lock:job:%s"

	// Dedup event processing: dedup:{service}:{id} (id = provider or envelope event id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCheckoutLock = 30 * time.Second
	TTLDedup        = 48 * time.Hour
)
