package model

import (
	"database/sql/driver"
	"time"
)

// WAStatus is the WhatsApp connection status of a business.
type WAStatus string

const (
	WAStatusPendingConnect WAStatus = "pending_connect"
	WAStatusConnected      WAStatus = "connected"
	WAStatusDisabled       WAStatus = "disabled"
)

// Service is one priced offering in a business profile.
type Service struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// Services is stored as a JSON array.
type Services []Service

func (s *Services) Scan(src any) error { return scanJSON(src, s) }
func (s Services) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return valueJSON([]Service(s))
}

// Areas is stored as a JSON array of strings.
type Areas []string

func (a *Areas) Scan(src any) error { return scanJSON(src, a) }
func (a Areas) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return valueJSON([]string(a))
}

// DayHours is the schedule for a single weekday. Open and Close are zero-padded HH:MM.
type DayHours struct {
	Open   string `json:"open,omitempty"`
	Close  string `json:"close,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// Weekdays lists the keys of OperatingHours in display order.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// OperatingHours maps a lowercase weekday name to its schedule.
// A weekday missing from the map is closed.
type OperatingHours map[string]DayHours

func (h *OperatingHours) Scan(src any) error { return scanJSON(src, h) }
func (h OperatingHours) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	return valueJSON(map[string]DayHours(h))
}

// Business is a tenant of the platform.
type Business struct {
	ID                 int64          `db:"id" json:"id"`
	OwnerPhone         *string        `db:"phone_number" json:"phone_number,omitempty"`
	Name               string         `db:"name" json:"name"`
	Services           Services       `db:"services" json:"services"`
	Areas              Areas          `db:"areas" json:"areas"`
	OperatingHours     OperatingHours `db:"operating_hours" json:"operating_hours"`
	BookingMethod      string         `db:"booking_method" json:"booking_method"`
	IsOnboarded        bool           `db:"is_onboarded" json:"is_onboarded"`
	LLMEnabled         bool           `db:"llm_enabled" json:"llm_enabled"`
	WabaID             *string        `db:"waba_id" json:"waba_id,omitempty"`
	PhoneNumberID      *string        `db:"phone_number_id" json:"phone_number_id,omitempty"`
	DisplayPhoneNumber *string        `db:"display_phone_number" json:"display_phone_number,omitempty"`
	WAStatus           WAStatus       `db:"wa_status" json:"wa_status"`
	ConnectedAt        *time.Time     `db:"connected_at" json:"connected_at,omitempty"`
	MetaAppID          *string        `db:"meta_app_id" json:"meta_app_id,omitempty"`
	OnboardingPhone    *string        `db:"onboarding_phone" json:"onboarding_phone,omitempty"`

	// Secret-bearing columns hold ciphertext produced by the credential encryptor.
	AccessToken     Secret `db:"wa_access_token" json:"-"`
	AppSecret       Secret `db:"meta_app_secret" json:"-"`
	VerifyToken     Secret `db:"webhook_verify_token" json:"-"`
	VerifyTokenHash string `db:"webhook_verify_token_hash" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Secret is an encrypted credential. It is only ever turned into plaintext
// through a SecretStore at the point of use.
type Secret string

// IsSet reports whether a ciphertext is present.
func (s Secret) IsSet() bool { return s != "" }

// IsWhatsAppConnected reports whether the business has a usable WhatsApp connection.
func (b *Business) IsWhatsAppConnected() bool {
	return b.WAStatus == WAStatusConnected && StringValue(b.PhoneNumberID) != "" && b.AccessToken.IsSet()
}

// CanSendMessages reports whether auto-replies may be sent for this business.
func (b *Business) CanSendMessages() bool {
	return b.IsWhatsAppConnected() && b.IsOnboarded
}

// IsOnboardingLocked reports whether a customer phone already claimed the onboarding slot.
func (b *Business) IsOnboardingLocked() bool {
	return StringValue(b.OnboardingPhone) != ""
}

// CanOnboard reports whether phone may drive onboarding for this business.
func (b *Business) CanOnboard(phone string) bool {
	return !b.IsOnboardingLocked() || StringValue(b.OnboardingPhone) == phone
}

// StringValue dereferences a nullable string column.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
