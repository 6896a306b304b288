package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/internal/whatsapp"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/metrics"
	"github.com/sahuti/autoreply/pkg/tracing"
)

var (
	// ErrSendFailed wraps every provider-side send failure.
	ErrSendFailed = errors.New("whatsapp send failed")

	// ErrMissingMessageID is returned when the provider accepted a send but returned no id.
	ErrMissingMessageID = errors.New("whatsapp response carried no message id")

	// ErrNoCredentials is returned when neither the tenant nor the deployment has sending credentials.
	ErrNoCredentials = errors.New("no whatsapp credentials configured")
)

// Sender posts text messages to the provider.
type Sender interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
}

// Gateway sends and receives WhatsApp messages and keeps the message log.
type Gateway struct {
	sender  Sender
	store   *store.Store
	secrets *SecretStore
	pauses  *PauseStore
	logger  *logger.Logger
}

// NewGateway creates a new dispatch gateway.
func NewGateway(sender Sender, st *store.Store, secrets *SecretStore, pauses *PauseStore, log *logger.Logger) *Gateway {
	return &Gateway{
		sender:  sender,
		store:   st,
		secrets: secrets,
		pauses:  pauses,
		logger:  log.Named("dispatch"),
	}
}

// Send posts text to "to" with b's credentials (or the global ones) and logs the
// outbound message. Failures are not retried.
func (g *Gateway) Send(ctx context.Context, to, text string, b *model.Business) (*model.WhatsAppMessage, error) {
	return g.send(ctx, "auto", to, text, b)
}

// SendManual is Send for a human-written reply; on success it (re)starts the
// pause window for "to".
func (g *Gateway) SendManual(ctx context.Context, to, text string, b *model.Business) (*model.WhatsAppMessage, time.Time, error) {
	msg, err := g.send(ctx, "manual", to, text, b)
	if err != nil {
		return nil, time.Time{}, err
	}
	until, err := g.pauses.Pause(ctx, to)
	if err != nil {
		return msg, time.Time{}, fmt.Errorf("message sent but pause failed: %w", err)
	}
	return msg, until, nil
}

func (g *Gateway) send(ctx context.Context, kind, to, text string, b *model.Business) (*model.WhatsAppMessage, error) {
	ctx, span := tracing.Tracer("dispatch").Start(ctx, "whatsapp.send")
	defer span.End()
	span.SetAttributes(attribute.String("send.kind", kind))

	creds, err := g.secrets.SendCredentials(b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credentials")
		metrics.RecordDispatch(kind, "credentials_error", 0)
		return nil, err
	}
	if creds.PhoneNumberID == "" || creds.AccessToken == "" {
		metrics.RecordDispatch(kind, "not_configured", 0)
		return nil, ErrNoCredentials
	}

	start := time.Now()
	messageID, err := g.sender.SendText(ctx, creds, to, text)
	elapsed := time.Since(start).Seconds()
	if err == nil && messageID == "" {
		err = ErrMissingMessageID
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		metrics.RecordDispatch(kind, "failed", elapsed)
		g.logger.Error("whatsapp send failed",
			zap.String("customer_phone", to),
			zap.String("phone_number_id", creds.PhoneNumberID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	metrics.RecordDispatch(kind, "sent", elapsed)

	msg := &model.WhatsAppMessage{
		MessageID:   messageID,
		Direction:   model.DirectionOutbound,
		From:        creds.PhoneNumberID,
		To:          to,
		MessageType: "text",
		Content:     model.JSONMap{"body": text},
		Status:      model.MessageStatusSent,
		Metadata:    model.JSONMap{"kind": kind},
	}
	if _, err := g.store.SaveMessage(ctx, msg); err != nil {
		// The message is out; only the log entry is missing.
		g.logger.Error("failed to log outbound message", zap.String("message_id", messageID), zap.Error(err))
	}
	return msg, nil
}

// VerifySignature checks the X-Hub-Signature-256 value against body using b's app
// secret, or the global one when b is nil or has none.
func (g *Gateway) VerifySignature(signature string, body []byte, b *model.Business) bool {
	secret, err := g.secrets.AppSecret(b)
	if err != nil {
		g.logger.Error("failed to reveal app secret", zap.Error(err))
		return false
	}
	return whatsapp.VerifySignature(body, signature, secret)
}

// ReceiveInbound normalizes and logs an inbound message. A redelivered message id
// returns the stored row. Failures are logged and yield nil.
func (g *Gateway) ReceiveInbound(ctx context.Context, in whatsapp.InboundMessage, phoneNumberID string) *model.WhatsAppMessage {
	if in.ID == "" || in.From == "" {
		g.logger.Error("inbound message missing id or sender", zap.String("message_id", in.ID))
		return nil
	}
	if phoneNumberID == "" {
		phoneNumberID = g.secrets.GlobalPhoneNumberID()
	}

	var raw map[string]any
	if len(in.Raw) > 0 {
		if err := json.Unmarshal(in.Raw, &raw); err != nil {
			g.logger.Warn("failed to decode raw inbound message", zap.Error(err))
		}
	}

	msg := &model.WhatsAppMessage{
		MessageID:   in.ID,
		Direction:   model.DirectionInbound,
		From:        in.From,
		To:          phoneNumberID,
		MessageType: in.Type,
		Content:     extractContent(in, raw),
		Status:      model.MessageStatusReceived,
		Metadata:    raw,
	}
	created, err := g.store.SaveMessage(ctx, msg)
	if err != nil {
		g.logger.Error("failed to log inbound message", zap.String("message_id", in.ID), zap.Error(err))
		return nil
	}
	if !created {
		g.logger.Info("duplicate inbound message", zap.String("message_id", in.ID))
	}
	return msg
}

// extractContent keeps the type-specific fields worth storing.
func extractContent(in whatsapp.InboundMessage, raw map[string]any) model.JSONMap {
	media := func(fields ...string) model.JSONMap {
		out := model.JSONMap{}
		obj, _ := raw[in.Type].(map[string]any)
		for _, f := range fields {
			if v, ok := obj[f]; ok {
				out[f] = v
			} else {
				out[f] = nil
			}
		}
		return out
	}

	switch in.Type {
	case "text":
		return model.JSONMap{"body": in.Body()}
	case "image", "video":
		return media("id", "mime_type", "caption")
	case "audio":
		return media("id", "mime_type")
	case "document":
		return media("id", "mime_type", "filename")
	default:
		return model.JSONMap{"raw": raw}
	}
}
