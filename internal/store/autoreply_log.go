package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sahuti/autoreply/internal/model"
)

const autoReplyLogColumns = `id, customer_phone, business_id, message_text, reply_text, reply_type,
	llm_tokens_used, rate_limited, duration_ms, created_at`

// CreateAutoReplyLog appends an audit entry and fills its id. CreatedAt is stamped when zero.
func (s *Store) CreateAutoReplyLog(ctx context.Context, l *model.AutoReplyLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	l.CreatedAt = l.CreatedAt.UTC()

	res, err := s.db.NamedExecContext(ctx, `INSERT INTO auto_reply_logs
		(customer_phone, business_id, message_text, reply_text, reply_type, llm_tokens_used, rate_limited, duration_ms, created_at)
		VALUES (:customer_phone, :business_id, :message_text, :reply_text, :reply_type, :llm_tokens_used, :rate_limited, :duration_ms, :created_at)`, l)
	if err != nil {
		return fmt.Errorf("failed to create auto-reply log: %w", err)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read auto-reply log id: %w", err)
	}
	return nil
}

// LastReplyTime returns when the most recent non-rate-limited reply to phone was logged.
// ok is false when there is none.
func (s *Store) LastReplyTime(ctx context.Context, phone string) (t time.Time, ok bool, err error) {
	var l model.AutoReplyLog
	err = s.db.GetContext(ctx, &l, `SELECT `+autoReplyLogColumns+` FROM auto_reply_logs
		WHERE customer_phone = ? AND rate_limited = 0 ORDER BY id DESC LIMIT 1`, phone)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last reply: %w", err)
	}
	return l.CreatedAt, true, nil
}

// ListAutoReplyLogs returns the newest logs for a business.
func (s *Store) ListAutoReplyLogs(ctx context.Context, businessID int64, limit int) ([]model.AutoReplyLog, error) {
	if limit <= 0 {
		limit = 50
	}
	logs := []model.AutoReplyLog{}
	err := s.db.SelectContext(ctx, &logs, `SELECT `+autoReplyLogColumns+` FROM auto_reply_logs
		WHERE business_id = ? ORDER BY id DESC LIMIT ?`, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-reply logs: %w", err)
	}
	return logs, nil
}
