package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/internal/whatsapp"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/metrics"
	"github.com/sahuti/autoreply/pkg/tracing"
)

// Outcome is the result class of one inbound message.
type Outcome string

const (
	OutcomeReplied    Outcome = "replied"
	OutcomeOnboarding Outcome = "onboarding"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Reasons attached to skipped and failed outcomes.
const (
	ReasonNonText          = "non_text"
	ReasonOnboardingLocked = "onboarding_locked"
	ReasonPaused           = "paused"
	ReasonRateLimited      = "rate_limited"
	ReasonNoBusiness       = "no_business"
	ReasonNotOnboarded     = "not_onboarded"
	ReasonEmptyReply       = "empty_reply"
	ReasonSendFailed       = "send_failed"
	ReasonInvalidMessage   = "invalid_message"
	ReasonInternal         = "internal_error"
	ReasonPanic            = "panic"
)

// MessageOutcome records what happened to one inbound message.
type MessageOutcome struct {
	MessageID     string          `json:"message_id"`
	From          string          `json:"from"`
	PhoneNumberID string          `json:"phone_number_id,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Reason        string          `json:"reason,omitempty"`
	ReplyType     model.ReplyType `json:"reply_type,omitempty"`
	Err           error           `json:"-"`
}

// BatchResult collects the outcomes of one webhook delivery.
type BatchResult struct {
	Messages []MessageOutcome
	Statuses int
}

// Count returns how many messages ended with outcome.
func (r BatchResult) Count(outcome Outcome) int {
	n := 0
	for _, m := range r.Messages {
		if m.Outcome == outcome {
			n++
		}
	}
	return n
}

// OrchestratorDeps are the collaborators of the webhook pipeline.
type OrchestratorDeps struct {
	Store      *store.Store
	Tenants    *TenantDirectory
	Gateway    *Gateway
	Secrets    *SecretStore
	Onboarding *Onboarding
	Pauses     *PauseStore
	Limiter    *RateLimiter
	Replies    *ReplyGenerator
	Events     *EventSink
	Clock      clockwork.Clock
	Logger     *logger.Logger
}

// Orchestrator runs every inbound webhook message through the reply pipeline.
type Orchestrator struct {
	store      *store.Store
	tenants    *TenantDirectory
	gateway    *Gateway
	secrets    *SecretStore
	onboarding *Onboarding
	pauses     *PauseStore
	limiter    *RateLimiter
	replies    *ReplyGenerator
	events     *EventSink
	clock      clockwork.Clock
	logger     *logger.Logger
}

// NewOrchestrator creates a new webhook orchestrator.
func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		store:      d.Store,
		tenants:    d.Tenants,
		gateway:    d.Gateway,
		secrets:    d.Secrets,
		onboarding: d.Onboarding,
		pauses:     d.Pauses,
		limiter:    d.Limiter,
		replies:    d.Replies,
		events:     d.Events,
		clock:      d.Clock,
		logger:     d.Logger.Named("webhook"),
	}
}

// VerifyToken answers the subscription handshake. token may be the global verify
// token or any tenant's own token.
func (o *Orchestrator) VerifyToken(ctx context.Context, mode, token string) bool {
	if mode != "subscribe" || token == "" {
		return false
	}
	if global := o.secrets.GlobalVerifyToken(); global != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(global)) == 1 {
		return true
	}

	b, err := o.store.GetBusinessByVerifyTokenHash(ctx, crypto.HashToken(token))
	if err != nil {
		o.logger.Error("failed to look up verify token", zap.Error(err))
		return false
	}
	if b != nil {
		o.logger.Info("webhook verified with tenant token", zap.Int64("business_id", b.ID))
	}
	return b != nil
}

// Authenticate checks the request signature against the app secret of the tenant
// that owns phoneNumberID, or the global one. A missing signature is accepted.
func (o *Orchestrator) Authenticate(ctx context.Context, signature string, body []byte, phoneNumberID string) bool {
	if signature == "" {
		return true
	}
	b, err := o.tenants.Resolve(ctx, phoneNumberID)
	if err != nil {
		o.logger.Error("failed to resolve tenant for signature", zap.Error(err))
	}
	if !o.gateway.VerifySignature(signature, body, b) {
		metrics.SignatureFailuresTotal.Inc()
		o.logger.Warn("invalid webhook signature", zap.String("phone_number_id", phoneNumberID))
		return false
	}
	return true
}

// HandleEnvelope processes every message and status of a webhook delivery.
// Each message is isolated; one failure never stops its siblings.
func (o *Orchestrator) HandleEnvelope(ctx context.Context, env *whatsapp.Envelope) BatchResult {
	var result BatchResult
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			phoneNumberID := change.Value.Metadata.PhoneNumberID

			b, err := o.tenants.Resolve(ctx, phoneNumberID)
			if err != nil {
				o.logger.Error("tenant lookup failed", zap.String("phone_number_id", phoneNumberID), zap.Error(err))
				b = nil
			}

			for _, msg := range change.Value.Messages {
				result.Messages = append(result.Messages, o.HandleMessage(ctx, msg, phoneNumberID, b))
			}
			for _, status := range change.Value.Statuses {
				o.HandleStatus(ctx, status)
				result.Statuses++
			}
		}
	}
	return result
}

// HandleMessage runs one inbound message through the pipeline. b is the tenant
// resolved from the change metadata and may be nil.
func (o *Orchestrator) HandleMessage(ctx context.Context, in whatsapp.InboundMessage, phoneNumberID string, b *model.Business) (out MessageOutcome) {
	out = MessageOutcome{MessageID: in.ID, From: in.From, PhoneNumberID: phoneNumberID}
	log := o.logger.WithMessage(phoneNumberID, in.From, in.ID)

	ctx, span := tracing.Tracer("webhook").Start(ctx, "webhook.message")
	defer span.End()
	span.SetAttributes(attribute.String("message.type", in.Type), attribute.String("phone_number_id", phoneNumberID))

	defer func() {
		if r := recover(); r != nil {
			out.Outcome = OutcomeFailed
			out.Reason = ReasonPanic
			out.Err = fmt.Errorf("panic: %v", r)
			log.Error("panic while handling message", zap.Any("panic", r), zap.Stack("stack"))
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Reason)
		}
		span.SetAttributes(attribute.String("outcome", string(out.Outcome)), attribute.String("reason", out.Reason))
		metrics.RecordMessageOutcome(string(out.Outcome), out.Reason)
	}()

	if in.ID == "" || in.From == "" {
		return failed(out, ReasonInvalidMessage, errors.New("message missing id or sender"))
	}

	o.gateway.ReceiveInbound(ctx, in, phoneNumberID)

	if in.Type != "text" {
		log.Info("ignoring non-text message", zap.String("type", in.Type))
		return skipped(out, ReasonNonText)
	}
	text := in.Body()

	if IsOnboardingTrigger(text) {
		return o.onboardingOutcome(out, log, o.onboarding.Start(ctx, in.From, b))
	}

	active, err := o.onboarding.HasActive(ctx, in.From)
	if err != nil {
		return failed(out, ReasonInternal, err)
	}
	if active {
		return o.onboardingOutcome(out, log, o.onboarding.Process(ctx, in.From, text, b))
	}

	paused, err := o.pauses.IsPaused(ctx, in.From)
	if err != nil {
		return failed(out, ReasonInternal, err)
	}
	if paused {
		log.Info("conversation paused, skipping auto-reply")
		return skipped(out, ReasonPaused)
	}

	acquired, err := o.limiter.TryAcquire(ctx, in.From)
	if err != nil {
		return failed(out, ReasonInternal, err)
	}
	if !acquired {
		remaining, _ := o.limiter.RemainingCooldown(ctx, in.From)
		log.Info("rate limited, skipping auto-reply", zap.Duration("remaining", remaining))
		return skipped(out, ReasonRateLimited)
	}

	out = o.reply(ctx, log, out, in, text, phoneNumberID, b)
	if out.Outcome != OutcomeReplied {
		if err := o.limiter.Release(ctx, in.From); err != nil {
			log.Warn("failed to release cooldown claim", zap.Error(err))
		}
	}
	return out
}

func (o *Orchestrator) reply(ctx context.Context, log *logger.Logger, out MessageOutcome, in whatsapp.InboundMessage, text, phoneNumberID string, b *model.Business) MessageOutcome {
	start := time.Now()

	if b == nil {
		resolved, err := o.tenants.ResolveWithFallback(ctx, phoneNumberID)
		if err != nil {
			return failed(out, ReasonInternal, err)
		}
		b = resolved
	}
	if b == nil {
		log.Warn("no business found for message")
		return skipped(out, ReasonNoBusiness)
	}
	log = log.With(zap.Int64("business_id", b.ID))
	if !b.IsOnboarded {
		log.Info("business not onboarded, skipping auto-reply")
		return skipped(out, ReasonNotOnboarded)
	}

	reply := o.replies.Generate(ctx, text, b)
	if reply.Empty() {
		return skipped(out, ReasonEmptyReply)
	}
	out.ReplyType = reply.Type

	sent, err := o.gateway.Send(ctx, in.From, reply.Text, b)
	if err != nil {
		log.Error("failed to send auto-reply", zap.Error(err))
		return failed(out, ReasonSendFailed, err)
	}

	if err := o.limiter.SetCooldown(ctx, in.From); err != nil {
		log.Warn("failed to set cooldown", zap.Error(err))
	}

	elapsed := time.Since(start)
	entry := &model.AutoReplyLog{
		CustomerPhone: in.From,
		BusinessID:    &b.ID,
		MessageText:   text,
		ReplyText:     reply.Text,
		ReplyType:     reply.Type,
		DurationMs:    elapsed.Milliseconds(),
	}
	if reply.TokensUsed > 0 {
		tokens := reply.TokensUsed
		entry.LLMTokensUsed = &tokens
	}
	if err := o.store.CreateAutoReplyLog(ctx, entry); err != nil {
		log.Error("failed to write auto-reply log", zap.Error(err))
	}
	metrics.RecordReply(string(reply.Type), elapsed.Seconds())

	o.events.Emit(ctx, &model.ReplyEvent{
		Type:          model.EventTypeAutoReply,
		BusinessID:    b.ID,
		CustomerPhone: in.From,
		MessageID:     sent.MessageID,
		ReplyType:     reply.Type,
		CreatedAt:     o.clock.Now().UTC(),
	})

	log.Info("auto-reply sent",
		zap.String("reply_type", string(reply.Type)),
		zap.String("reply_message_id", sent.MessageID),
		zap.Int64("duration_ms", elapsed.Milliseconds()))

	out.Outcome = OutcomeReplied
	return out
}

func (o *Orchestrator) onboardingOutcome(out MessageOutcome, log *logger.Logger, err error) MessageOutcome {
	switch {
	case errors.Is(err, ErrOnboardingLocked):
		return skipped(out, ReasonOnboardingLocked)
	case err != nil:
		log.Error("onboarding failed", zap.Error(err))
		return failed(out, ReasonInternal, err)
	default:
		out.Outcome = OutcomeOnboarding
		return out
	}
}

// HandleStatus records a delivery status callback. Unknown message ids are ignored.
func (o *Orchestrator) HandleStatus(ctx context.Context, s whatsapp.Status) {
	if s.ID == "" {
		return
	}
	metrics.WebhookStatusesTotal.WithLabelValues(s.Status).Inc()

	updated, err := o.store.UpdateMessageStatus(ctx, s.ID, s.Status)
	if err != nil {
		o.logger.Error("failed to update message status", zap.String("message_id", s.ID), zap.Error(err))
		return
	}
	if updated {
		o.logger.Debug("message status updated", zap.String("message_id", s.ID), zap.String("status", s.Status))
	}
}

func skipped(out MessageOutcome, reason string) MessageOutcome {
	out.Outcome = OutcomeSkipped
	out.Reason = reason
	return out
}

func failed(out MessageOutcome, reason string, err error) MessageOutcome {
	out.Outcome = OutcomeFailed
	out.Reason = reason
	out.Err = err
	return out
}
