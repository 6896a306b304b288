package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/pkg/logger"
)

var (
	// ErrPhoneNumberIDInUse is returned when another business already owns the phone number id.
	ErrPhoneNumberIDInUse = errors.New("phone number id already connected to another business")

	// ErrEventsDisabled is returned when no event stream is configured.
	ErrEventsDisabled = errors.New("event stream not configured")
)

// EventReader lists published events of a business.
type EventReader interface {
	RecentEvents(ctx context.Context, businessID int64, afterSequence uint64, limit int) ([]model.ReplyEvent, uint64, error)
}

// CredentialsInput is a WhatsApp connection submitted by an operator.
type CredentialsInput struct {
	WabaID             string `json:"waba_id" validate:"required,max=64"`
	PhoneNumberID      string `json:"phone_number_id" validate:"required,numeric,max=64"`
	DisplayPhoneNumber string `json:"display_phone_number" validate:"omitempty,max=32"`
	MetaAppID          string `json:"meta_app_id" validate:"omitempty,max=64"`
	AccessToken        string `json:"access_token" validate:"required"`
	AppSecret          string `json:"app_secret" validate:"omitempty"`
	VerifyToken        string `json:"webhook_verify_token" validate:"omitempty,min=8"`
}

// ManualReply is sent by a human agent from the admin API.
type ManualReply struct {
	Message     *model.WhatsAppMessage `json:"message"`
	PausedUntil time.Time              `json:"paused_until"`
}

// Admin implements the operator API over businesses and conversations.
type Admin struct {
	store   *store.Store
	secrets *SecretStore
	gateway *Gateway
	pauses  *PauseStore
	events  EventReader
	sink    *EventSink
	logger  *logger.Logger
}

// NewAdmin creates the admin service. events may be nil.
func NewAdmin(st *store.Store, secrets *SecretStore, gateway *Gateway, pauses *PauseStore, events EventReader, sink *EventSink, log *logger.Logger) *Admin {
	return &Admin{
		store:   st,
		secrets: secrets,
		gateway: gateway,
		pauses:  pauses,
		events:  events,
		sink:    sink,
		logger:  log.Named("admin"),
	}
}

// ListBusinesses returns every business.
func (a *Admin) ListBusinesses(ctx context.Context) ([]model.Business, error) {
	return a.store.ListBusinesses(ctx)
}

// GetBusiness returns a business or store.ErrNotFound.
func (a *Admin) GetBusiness(ctx context.Context, id int64) (*model.Business, error) {
	b, err := a.store.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("business %d: %w", id, store.ErrNotFound)
	}
	return b, nil
}

// UpdateCredentials encrypts in and connects the business to WhatsApp.
func (a *Admin) UpdateCredentials(ctx context.Context, id int64, in CredentialsInput) (*model.Business, error) {
	if _, err := a.GetBusiness(ctx, id); err != nil {
		return nil, err
	}

	inUse, err := a.store.PhoneNumberIDInUse(ctx, in.PhoneNumberID, id)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, ErrPhoneNumberIDInUse
	}

	creds := store.WhatsAppCredentials{
		WabaID:             strings.TrimSpace(in.WabaID),
		PhoneNumberID:      strings.TrimSpace(in.PhoneNumberID),
		DisplayPhoneNumber: strings.TrimSpace(in.DisplayPhoneNumber),
		MetaAppID:          strings.TrimSpace(in.MetaAppID),
	}
	if creds.AccessToken, err = a.secrets.Seal(in.AccessToken); err != nil {
		return nil, err
	}
	if creds.AppSecret, err = a.secrets.Seal(in.AppSecret); err != nil {
		return nil, err
	}
	if in.VerifyToken != "" {
		if creds.VerifyToken, err = a.secrets.Seal(in.VerifyToken); err != nil {
			return nil, err
		}
		creds.VerifyTokenHash = crypto.HashToken(in.VerifyToken)
	}

	if err := a.store.UpdateWhatsAppCredentials(ctx, id, creds); err != nil {
		return nil, err
	}
	a.logger.Info("whatsapp connected",
		zap.Int64("business_id", id),
		zap.String("phone_number_id", creds.PhoneNumberID))
	return a.GetBusiness(ctx, id)
}

// Disconnect disables the WhatsApp connection of a business.
func (a *Admin) Disconnect(ctx context.Context, id int64) (*model.Business, error) {
	if err := a.store.DisconnectWhatsApp(ctx, id); err != nil {
		return nil, err
	}
	a.logger.Info("whatsapp disconnected", zap.Int64("business_id", id))
	return a.GetBusiness(ctx, id)
}

// ResetOnboarding releases the onboarding lock and marks the business not onboarded.
func (a *Admin) ResetOnboarding(ctx context.Context, id int64) (*model.Business, error) {
	if err := a.store.ResetOnboarding(ctx, id); err != nil {
		return nil, err
	}
	a.logger.Info("onboarding reset", zap.Int64("business_id", id))
	return a.GetBusiness(ctx, id)
}

// SetLLMEnabled toggles LLM replies for a business.
func (a *Admin) SetLLMEnabled(ctx context.Context, id int64, enabled bool) (*model.Business, error) {
	if err := a.store.SetLLMEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}
	return a.GetBusiness(ctx, id)
}

// SendManualReply sends text as a human agent and pauses auto-replies to the customer.
func (a *Admin) SendManualReply(ctx context.Context, id int64, to, text string) (*ManualReply, error) {
	b, err := a.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	to = NormalizePhone(to)
	msg, until, err := a.gateway.SendManual(ctx, to, text, b)
	if err != nil {
		return nil, err
	}
	a.sink.Emit(ctx, &model.ReplyEvent{
		Type:          model.EventTypeManualReply,
		BusinessID:    b.ID,
		CustomerPhone: to,
		MessageID:     msg.MessageID,
		Metadata:      map[string]any{"paused_until": until},
	})
	return &ManualReply{Message: msg, PausedUntil: until}, nil
}

// ResumeAutoReplies ends a human takeover for a customer.
func (a *Admin) ResumeAutoReplies(ctx context.Context, phone string) error {
	return a.pauses.Resume(ctx, phone)
}

// ListLogs returns the latest auto-reply logs of a business.
func (a *Admin) ListLogs(ctx context.Context, id int64, limit int) ([]model.AutoReplyLog, error) {
	return a.store.ListAutoReplyLogs(ctx, id, clampLimit(limit))
}

// ListMessages returns the latest messages exchanged with a customer phone.
func (a *Admin) ListMessages(ctx context.Context, phone string, limit int) ([]model.WhatsAppMessage, error) {
	return a.store.ListMessagesByPhone(ctx, NormalizePhone(phone), clampLimit(limit))
}

// RecentEvents returns published events of a business after afterSequence.
func (a *Admin) RecentEvents(ctx context.Context, id int64, afterSequence uint64, limit int) ([]model.ReplyEvent, uint64, error) {
	if a.events == nil {
		return nil, 0, ErrEventsDisabled
	}
	return a.events.RecentEvents(ctx, id, afterSequence, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	default:
		return limit
	}
}
