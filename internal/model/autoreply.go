package model

import "time"

// ReplyType classifies how an auto-reply was produced.
type ReplyType string

const (
	ReplyTypeRule          ReplyType = "rule"
	ReplyTypeLLM           ReplyType = "llm"
	ReplyTypeFallback      ReplyType = "fallback"
	ReplyTypeAfterHours    ReplyType = "after_hours"
	ReplyTypeMenuSelection ReplyType = "menu_selection"
	ReplyTypeEscalation    ReplyType = "escalation"
)

// AutoReplyLog is an audit entry for one generated reply.
type AutoReplyLog struct {
	ID            int64     `db:"id" json:"id"`
	CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
	BusinessID    *int64    `db:"business_id" json:"business_id,omitempty"`
	MessageText   string    `db:"message_text" json:"message_text"`
	ReplyText     string    `db:"reply_text" json:"reply_text"`
	ReplyType     ReplyType `db:"reply_type" json:"reply_type"`
	LLMTokensUsed *int      `db:"llm_tokens_used" json:"llm_tokens_used,omitempty"`
	RateLimited   bool      `db:"rate_limited" json:"rate_limited"`
	DurationMs    int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
