package redisx

import "time"

const (
	// Dedup webhook provider: webhook:{provider}:{external_event_id}
	KeyWebhookDedup = "webhook:%s:%s"

	// Idempotency checkout: idem:checkout:{user_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Cache produk dari catalog: catalog:product:{product_id} -> json
	KeyCatalogProduct = "catalog:product:%s"

	// Lock background job: lock:{name}
	KeyLock = "lock:%s"
)

var (
	TTLWebhookDedup = 24 * time.Hour
	TTLIdempotency  = 24 * time.Hour
	TTLCatalog      = 5 * time.Minute
)
