// Package ratelimit implements C5: a per-credential requests/minute cap
// backed by sharedstore.Store, generalizing the teacher's
// middleware/sender_rate_limit.go limiter (which was wired to one endpoint
// and one fixed Max) into a reusable per-credential limiter keyed by the
// current minute bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"mailgateway/internal/apierr"
	"mailgateway/internal/sharedstore"
)

const bucketTTL = 60 * time.Second

type Limiter struct {
	store sharedstore.Store
}

func New(store sharedstore.Store) *Limiter {
	return &Limiter{store: store}
}

// Allow increments the counter for credentialID's current minute bucket and
// fails with RateLimitExceeded once the count exceeds limitPerMinute.
func (l *Limiter) Allow(ctx context.Context, credentialID uint, limitPerMinute int) error {
	key := bucketKey(credentialID, time.Now())
	count, err := l.store.Incr(ctx, key, bucketTTL)
	if err != nil {
		return fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count > int64(limitPerMinute) {
		return apierr.ErrRateLimitExceeded("rate limit exceeded")
	}
	return nil
}

func bucketKey(credentialID uint, now time.Time) string {
	minuteBucket := now.Unix() / 60
	return fmt.Sprintf("rate:credential:%d:%d", credentialID, minuteBucket)
}
