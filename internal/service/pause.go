package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/metrics"
)

// DefaultPauseDuration is how long a manual reply silences auto-replies.
const DefaultPauseDuration = 30 * time.Minute

// NormalizePhone strips surrounding spaces and a leading plus, matching how
// WhatsApp reports senders.
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}

// PauseStore tracks human takeover windows per customer phone.
type PauseStore struct {
	store    *store.Store
	clock    clockwork.Clock
	duration time.Duration
	logger   *logger.Logger
}

// NewPauseStore creates a pause store. A non-positive duration uses DefaultPauseDuration.
func NewPauseStore(st *store.Store, clock clockwork.Clock, duration time.Duration, log *logger.Logger) *PauseStore {
	if duration <= 0 {
		duration = DefaultPauseDuration
	}
	return &PauseStore{store: st, clock: clock, duration: duration, logger: log.Named("pauses")}
}

// IsPaused reports whether phone is inside a pause window.
func (p *PauseStore) IsPaused(ctx context.Context, phone string) (bool, error) {
	pause, err := p.store.GetPause(ctx, NormalizePhone(phone))
	if err != nil {
		return false, fmt.Errorf("failed to check pause: %w", err)
	}
	return pause.ActiveAt(p.clock.Now()), nil
}

// Pause (re)starts the pause window for phone and returns when it ends.
func (p *PauseStore) Pause(ctx context.Context, phone string) (time.Time, error) {
	phone = NormalizePhone(phone)
	until := p.clock.Now().Add(p.duration).UTC()
	if err := p.store.UpsertPause(ctx, phone, until); err != nil {
		return time.Time{}, err
	}
	p.logger.Info("conversation paused",
		zap.String("customer_phone", phone),
		zap.Time("paused_until", until))
	return until, nil
}

// Resume ends the pause for phone immediately.
func (p *PauseStore) Resume(ctx context.Context, phone string) error {
	return p.store.DeletePause(ctx, NormalizePhone(phone))
}

// CleanupExpired deletes pause rows that are no longer in effect.
func (p *PauseStore) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := p.store.DeleteExpiredPauses(ctx, p.clock.Now())
	if err != nil {
		return 0, err
	}
	metrics.PausesExpiredTotal.Add(float64(n))
	return n, nil
}
