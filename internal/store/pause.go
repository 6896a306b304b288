package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sahuti/autoreply/internal/model"
)

// UpsertPause sets the pause window for phone, replacing any existing one.
func (s *Store) UpsertPause(ctx context.Context, phone string, until time.Time) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversation_pauses (phone_number, paused_until, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (phone_number) DO UPDATE SET paused_until = excluded.paused_until, updated_at = excluded.updated_at`,
		phone, until.UTC(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert pause: %w", err)
	}
	return nil
}

// GetPause returns the pause row for phone, or nil. Expired rows are returned as stored.
func (s *Store) GetPause(ctx context.Context, phone string) (*model.ConversationPause, error) {
	var p model.ConversationPause
	err := s.db.GetContext(ctx, &p, `SELECT phone_number, paused_until, created_at, updated_at
		FROM conversation_pauses WHERE phone_number = ?`, phone)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pause: %w", err)
	}
	return &p, nil
}

// DeletePause removes the pause for phone.
func (s *Store) DeletePause(ctx context.Context, phone string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_pauses WHERE phone_number = ?`, phone); err != nil {
		return fmt.Errorf("failed to delete pause: %w", err)
	}
	return nil
}

// DeleteExpiredPauses removes pauses that ended at or before now and returns how many were removed.
// Timestamps are stored in UTC so they compare correctly as text.
func (s *Store) DeleteExpiredPauses(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_pauses WHERE paused_until <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pauses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
