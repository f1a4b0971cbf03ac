package redis

// Key prefixes for primary entity storage.
const (
	prefixWebhook  = "hooks:wh:"
	prefixDelivery = "hooks:whd:"
)

// Key prefix for webhook health counters. Counters live in a hash so
// increments stay atomic alongside the JSON entity blob.
const prefixHealth = "hooks:h:wh:"

// Key prefixes for sorted set indexes.
const (
	zWebhookAll   = "hooks:z:wh:all"
	zDeliveryHook = "hooks:z:whd:wh:" // + webhook ID
	zDeliveryPend = "hooks:z:whd:pending"
	zDeliveryDone = "hooks:z:whd:done"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
