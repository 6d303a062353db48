// Package cache defines the byte cache used for login sessions and consent
// state. Adapters: memory (go-cache) and redis.
package cache

import "time"

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
