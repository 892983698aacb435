// Package cache provides the read-side key/value store used for loan
// summaries. Implementations are best effort: a miss or a transport error
// just sends the caller back to the database.
package cache

import (
	"context"
	"time"
)

// Store is the minimal surface the read side needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
