// Package lockout implements C6: counting admin login failures per
// (username, ip) and locking out after a threshold, using the same
// sharedstore idiom as C5.
package lockout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailgateway/internal/apierr"
	"mailgateway/internal/sharedstore"
)

const unknownIP = "unknown"

type Guard struct {
	store       sharedstore.Store
	maxAttempts int
	lockWindow  time.Duration
}

func New(store sharedstore.Store, maxAttempts int, lockWindow time.Duration) *Guard {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockWindow <= 0 {
		lockWindow = 15 * time.Minute
	}
	return &Guard{store: store, maxAttempts: maxAttempts, lockWindow: lockWindow}
}

// CheckLocked fails with AccountLocked, including remaining minutes, if the
// account is currently locked. The password check itself must be skipped
// when this returns an error.
func (g *Guard) CheckLocked(ctx context.Context, username, ip string) error {
	key := lockKey(username, ip)
	val, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lockout: get: %w", err)
	}
	if !ok {
		return nil
	}

	remaining := remainingMinutes(val)
	return apierr.ErrAccountLocked(fmt.Sprintf("account locked, try again in %d minute(s)", remaining))
}

// RecordFailure increments the failure counter; at maxAttempts it clears the
// counter and sets the lock key with a TTL equal to the lock window.
func (g *Guard) RecordFailure(ctx context.Context, username, ip string) error {
	key := failureKey(username, ip)
	count, err := g.store.Incr(ctx, key, g.lockWindow)
	if err != nil {
		return fmt.Errorf("lockout: incr: %w", err)
	}

	if count >= int64(g.maxAttempts) {
		if err := g.store.Del(ctx, key); err != nil {
			return fmt.Errorf("lockout: clear counter: %w", err)
		}
		lockedUntil := time.Now().Add(g.lockWindow)
		if err := g.store.Set(ctx, lockKey(username, ip), strconv.FormatInt(lockedUntil.Unix(), 10), g.lockWindow); err != nil {
			return fmt.Errorf("lockout: set lock: %w", err)
		}
	}
	return nil
}

// ClearOnSuccess clears both the failure counter and any active lock.
func (g *Guard) ClearOnSuccess(ctx context.Context, username, ip string) error {
	if err := g.store.Del(ctx, failureKey(username, ip)); err != nil {
		return err
	}
	return g.store.Del(ctx, lockKey(username, ip))
}

func normalizeIP(ip string) string {
	if ip == "" {
		return unknownIP
	}
	return ip
}

func failureKey(username, ip string) string {
	return fmt.Sprintf("lockout:fail:%s:%s", strings.ToLower(username), normalizeIP(ip))
}

func lockKey(username, ip string) string {
	return fmt.Sprintf("lockout:lock:%s:%s", strings.ToLower(username), normalizeIP(ip))
}

func remainingMinutes(lockedUntilUnix string) int {
	sec, err := strconv.ParseInt(lockedUntilUnix, 10, 64)
	if err != nil {
		return 0
	}
	remaining := time.Until(time.Unix(sec, 0))
	if remaining <= 0 {
		return 0
	}
	minutes := int(remaining.Minutes())
	if minutes == 0 {
		minutes = 1
	}
	return minutes
}
