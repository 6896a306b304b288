package model

import (
	"time"
)

// EventType represents the type of platform event.
type EventType string

const (
	EventTypeAutoReply           EventType = "auto_reply"
	EventTypeManualReply         EventType = "manual_reply"
	EventTypeOnboardingCompleted EventType = "onboarding_completed"
)

// ReplyEvent is published to the event stream after an outbound action.
type ReplyEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	BusinessID    int64          `json:"business_id"`
	CustomerPhone string         `json:"customer_phone"`
	MessageID     string         `json:"message_id,omitempty"`
	ReplyType     ReplyType      `json:"reply_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
