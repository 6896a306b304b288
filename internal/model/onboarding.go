package model

import (
	"database/sql/driver"
	"time"
)

// Step is a state of the onboarding conversation.
type Step string

const (
	StepName     Step = "name"
	StepServices Step = "services"
	StepAreas    Step = "areas"
	StepHours    Step = "hours"
	StepBooking  Step = "booking"
	StepConfirm  Step = "confirm"
)

// Next returns the step that follows s. Confirm is terminal for forward movement.
func (s Step) Next() Step {
	switch s {
	case StepName:
		return StepServices
	case StepServices:
		return StepAreas
	case StepAreas:
		return StepHours
	case StepHours:
		return StepBooking
	case StepBooking, StepConfirm:
		return StepConfirm
	default:
		return StepConfirm
	}
}

// CollectedData holds the raw trimmed answer for each completed step.
type CollectedData map[Step]string

func (c *CollectedData) Scan(src any) error { return scanJSON(src, c) }
func (c CollectedData) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	return valueJSON(map[Step]string(c))
}

// OnboardingState tracks one customer's progress through onboarding.
type OnboardingState struct {
	ID            int64         `db:"id" json:"id"`
	PhoneNumber   string        `db:"phone_number" json:"phone_number"`
	BusinessID    *int64        `db:"business_id" json:"business_id,omitempty"`
	CurrentStep   Step          `db:"current_step" json:"current_step"`
	CollectedData CollectedData `db:"collected_data" json:"collected_data"`
	IsComplete    bool          `db:"is_complete" json:"is_complete"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// ConversationPause marks a human takeover window for a customer phone.
type ConversationPause struct {
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	PausedUntil time.Time `db:"paused_until" json:"paused_until"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ActiveAt reports whether the pause is still in effect at now.
func (p *ConversationPause) ActiveAt(now time.Time) bool {
	return p != nil && p.PausedUntil.After(now)
}
