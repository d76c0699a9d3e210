package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> status
	KeyOrderStatus = "order_status:%s"

	// Lock sweep expiration: lock:{job} -> token pemilik
	KeyJobLock = "lock:%s"
)

var TTLStatusCache = 5 * time.Minute
