package store

import (
	"context"
	"fmt"

	"github.com/sahuti/autoreply/internal/model"
)

const messageColumns = `id, message_id, direction, from_phone, to_phone, message_type, content, status, metadata, created_at, updated_at`

// SaveMessage appends m to the message log. When a row with the same message_id
// already exists, m is overwritten with the stored row and created is false.
func (s *Store) SaveMessage(ctx context.Context, m *model.WhatsAppMessage) (created bool, err error) {
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Content == nil {
		m.Content = model.JSONMap{}
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}

	res, err := s.db.NamedExecContext(ctx, `INSERT INTO whatsapp_messages
		(message_id, direction, from_phone, to_phone, message_type, content, status, metadata, created_at, updated_at)
		VALUES (:message_id, :direction, :from_phone, :to_phone, :message_type, :content, :status, :metadata, :created_at, :updated_at)
		ON CONFLICT (message_id) DO NOTHING`, m)
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	stored, err := s.GetMessageByMessageID(ctx, m.MessageID)
	if err != nil {
		return false, err
	}
	if stored != nil {
		*m = *stored
	}
	return n == 1, nil
}

// GetMessageByMessageID returns the logged message with the provider id, or nil.
func (s *Store) GetMessageByMessageID(ctx context.Context, messageID string) (*model.WhatsAppMessage, error) {
	var m model.WhatsAppMessage
	err := s.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM whatsapp_messages WHERE message_id = ?`, messageID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// UpdateMessageStatus records a delivery status callback. Unknown message ids are not an error.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE whatsapp_messages SET status = ?, updated_at = ? WHERE message_id = ?`,
		status, s.now(), messageID)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ListMessagesByPhone returns the conversation with phone, newest first.
func (s *Store) ListMessagesByPhone(ctx context.Context, phone string, limit int) ([]model.WhatsAppMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	messages := []model.WhatsAppMessage{}
	err := s.db.SelectContext(ctx, &messages, `SELECT `+messageColumns+` FROM whatsapp_messages
		WHERE from_phone = ? OR to_phone = ? ORDER BY id DESC LIMIT ?`, phone, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
