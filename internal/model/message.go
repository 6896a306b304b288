package model

import (
	"database/sql/driver"
	"time"
)

// Direction of a logged WhatsApp message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Delivery statuses written by the platform. Provider status callbacks may add others.
const (
	MessageStatusReceived = "received"
	MessageStatusSent     = "sent"
)

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

func (m *JSONMap) Scan(src any) error { return scanJSON(src, m) }
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSON(map[string]any(m))
}

// WhatsAppMessage is an entry of the append-only message log.
type WhatsAppMessage struct {
	ID          int64     `db:"id" json:"id"`
	MessageID   string    `db:"message_id" json:"message_id"`
	Direction   Direction `db:"direction" json:"direction"`
	From        string    `db:"from_phone" json:"from"`
	To          string    `db:"to_phone" json:"to"`
	MessageType string    `db:"message_type" json:"message_type"`
	Content     JSONMap   `db:"content" json:"content"`
	Status      string    `db:"status" json:"status"`
	Metadata    JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Body returns the text body of a text message, or "".
func (m *WhatsAppMessage) Body() string {
	if m.Content == nil {
		return ""
	}
	s, _ := m.Content["body"].(string)
	return s
}
