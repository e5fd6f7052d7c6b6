package core

import (
	"context"
	"time"
)

// RateLimiter caps how many credentials one client may be issued per window.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, client string, limit int, window time.Duration) error
}
