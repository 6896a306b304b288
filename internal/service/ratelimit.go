package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sahuti/autoreply/internal/cache"
	"github.com/sahuti/autoreply/internal/store"
)

const cooldownKeyPrefix = "auto_reply_cooldown:"

// RateLimiter suppresses replies to a customer within a window of the last reply.
// The window is measured from the last non-rate-limited reply, not the last inbound message.
type RateLimiter struct {
	cache  cache.Cache
	store  *store.Store
	clock  clockwork.Clock
	window time.Duration
}

// NewRateLimiter creates a limiter with the given window.
func NewRateLimiter(c cache.Cache, st *store.Store, clock clockwork.Clock, window time.Duration) *RateLimiter {
	return &RateLimiter{cache: c, store: st, clock: clock, window: window}
}

func cooldownKey(phone string) string {
	return cooldownKeyPrefix + phone
}

// Window returns the configured window.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

// IsRateLimited checks the cache first, then the reply log.
func (r *RateLimiter) IsRateLimited(ctx context.Context, phone string) (bool, error) {
	hit, err := r.cache.Has(ctx, cooldownKey(phone))
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown cache: %w", err)
	}
	if hit {
		return true, nil
	}

	last, ok, err := r.store.LastReplyTime(ctx, phone)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return r.clock.Now().Sub(last) < r.window, nil
}

// TryAcquire claims the reply slot for phone. It returns false when the phone is
// rate limited or another delivery holds the claim.
func (r *RateLimiter) TryAcquire(ctx context.Context, phone string) (bool, error) {
	limited, err := r.IsRateLimited(ctx, phone)
	if err != nil || limited {
		return false, err
	}
	ok, err := r.cache.SetIfAbsent(ctx, cooldownKey(phone), r.window)
	if err != nil {
		return false, fmt.Errorf("failed to claim cooldown: %w", err)
	}
	return ok, nil
}

// Release drops a claim that did not lead to a reply.
func (r *RateLimiter) Release(ctx context.Context, phone string) error {
	return r.cache.Delete(ctx, cooldownKey(phone))
}

// SetCooldown starts the window from now. Call it after a reply was sent.
func (r *RateLimiter) SetCooldown(ctx context.Context, phone string) error {
	return r.cache.Set(ctx, cooldownKey(phone), r.window)
}

// RemainingCooldown returns how long phone stays rate limited, never negative.
func (r *RateLimiter) RemainingCooldown(ctx context.Context, phone string) (time.Duration, error) {
	ttl, err := r.cache.TTL(ctx, cooldownKey(phone))
	if err != nil {
		return 0, err
	}

	last, ok, err := r.store.LastReplyTime(ctx, phone)
	if err != nil {
		return 0, err
	}
	var fromLog time.Duration
	if ok {
		fromLog = r.window - r.clock.Now().Sub(last)
	}

	return max(ttl, fromLog, 0), nil
}
