// Package idempotency caches successful responses by client-supplied key so
// a retried request replays the first result instead of executing again.
package idempotency

import (
	"context"
	"regexp"
	"time"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "X-Idempotent-Replayed"
	DefaultTTL     = 24 * time.Hour
	maxKeyLength   = 255
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidKey reports whether key is acceptable as an Idempotency-Key.
func ValidKey(key string) bool {
	return len(key) <= maxKeyLength && keyPattern.MatchString(key)
}

// CacheKey scopes key to its owner.
func CacheKey(owner, key string) string {
	return "idempotency:" + owner + ":" + key
}

// Response is a stored reply.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Store persists responses and in-flight locks. Get returns nil, nil on a
// miss.
type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Put(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
