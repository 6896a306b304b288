package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/metrics"
)

// ErrOnboardingLocked is returned when another phone holds the business's onboarding slot.
var ErrOnboardingLocked = errors.New("onboarding locked by another phone")

// OnboardingTrigger starts onboarding when sent as the whole message (any case).
const OnboardingTrigger = "ONBOARDING"

const (
	welcomePrompt = "Welcome to Sahuti! 🎉\n\nLet's get your business set up. What's your business name?"

	completionMessage = "✅ *Onboarding Complete!*\n\n" +
		"Your business profile has been successfully saved. Welcome to Sahuti! 🎉"

	invalidConfirmMessage = "Please reply with *YES* to confirm or *EDIT* to start over."

	saveFailedMessage = "Sorry, we couldn't save your business profile just now. " +
		"Please reply *YES* to try again or *EDIT* to start over."
)

var (
	servicePattern = regexp.MustCompile(`^(.+) - (.+)$`)
	hoursLine      = regexp.MustCompile(`^([A-Za-z]+)\s*:\s*(.+)$`)
	hoursRange     = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*-\s*(\d{1,2}):(\d{2})`)
)

var dayAliases = map[string]string{
	"mon": "monday", "tue": "tuesday", "tues": "tuesday", "wed": "wednesday",
	"thu": "thursday", "thur": "thursday", "thurs": "thursday", "fri": "friday",
	"sat": "saturday", "sun": "sunday",
}

// IsOnboardingTrigger reports whether text asks to start onboarding.
func IsOnboardingTrigger(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), OnboardingTrigger)
}

// Onboarding runs the conversational business setup flow.
type Onboarding struct {
	store   *store.Store
	gateway *Gateway
	events  *EventSink
	clock   clockwork.Clock
	logger  *logger.Logger
}

// NewOnboarding creates a new onboarding state machine.
func NewOnboarding(st *store.Store, gateway *Gateway, events *EventSink, clock clockwork.Clock, log *logger.Logger) *Onboarding {
	return &Onboarding{
		store:   st,
		gateway: gateway,
		events:  events,
		clock:   clock,
		logger:  log.Named("onboarding"),
	}
}

// HasActive reports whether phone is in the middle of onboarding.
func (o *Onboarding) HasActive(ctx context.Context, phone string) (bool, error) {
	st, err := o.store.GetActiveOnboarding(ctx, phone)
	if err != nil {
		return false, err
	}
	return st != nil, nil
}

// Start begins onboarding for phone, scoped to b when the webhook was routed to a tenant.
// It returns ErrOnboardingLocked, without replying, when b is claimed by another phone.
func (o *Onboarding) Start(ctx context.Context, phone string, b *model.Business) error {
	log := o.logger.With(zap.String("customer_phone", phone))

	if b != nil && !b.CanOnboard(phone) {
		log.Info("onboarding locked to another phone", zap.Int64("business_id", b.ID))
		return ErrOnboardingLocked
	}

	owned, err := o.store.GetBusinessByOwnerPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to look up owned business: %w", err)
	}
	if owned != nil && owned.IsOnboarded {
		o.send(ctx, phone, fmt.Sprintf("You've already completed onboarding! Your business '%s' is registered.", owned.Name), b)
		return nil
	}

	active, err := o.store.GetActiveOnboarding(ctx, phone)
	if err != nil {
		return err
	}
	if active != nil {
		o.send(ctx, phone, "You already have an onboarding in progress. Let's continue from where we left off.\n\n"+
			promptFor(active.CurrentStep, active.CollectedData), b)
		return nil
	}

	var businessID *int64
	if b != nil {
		if !b.IsOnboardingLocked() {
			locked, err := o.store.LockOnboarding(ctx, b.ID, phone)
			if err != nil {
				return err
			}
			if !locked {
				log.Info("lost onboarding lock race", zap.Int64("business_id", b.ID))
				return ErrOnboardingLocked
			}
			b.OnboardingPhone = model.StringPtr(phone)
		}
		businessID = &b.ID
	}

	if _, err := o.store.CreateOnboarding(ctx, phone, businessID); err != nil {
		return err
	}
	metrics.OnboardingTransitionsTotal.WithLabelValues("start").Inc()
	log.Info("onboarding started")

	o.send(ctx, phone, welcomePrompt, b)
	return nil
}

// Process applies text as the answer to phone's current onboarding step.
func (o *Onboarding) Process(ctx context.Context, phone, text string, b *model.Business) error {
	log := o.logger.With(zap.String("customer_phone", phone))

	st, err := o.store.GetActiveOnboarding(ctx, phone)
	if err != nil {
		return err
	}
	if st == nil {
		log.Warn("no active onboarding state found")
		return nil
	}
	if b != nil && !b.CanOnboard(phone) {
		log.Info("onboarding locked to another phone", zap.Int64("business_id", b.ID))
		return ErrOnboardingLocked
	}
	if st.BusinessID == nil && b != nil && model.StringValue(b.OnboardingPhone) == phone {
		st.BusinessID = &b.ID
	}

	if st.CurrentStep == model.StepConfirm {
		return o.confirm(ctx, st, text, b)
	}

	if st.CollectedData == nil {
		st.CollectedData = model.CollectedData{}
	}
	answered := st.CurrentStep
	st.CollectedData[answered] = strings.TrimSpace(text)
	st.CurrentStep = answered.Next()
	if err := o.store.UpdateOnboarding(ctx, st); err != nil {
		return err
	}
	metrics.OnboardingTransitionsTotal.WithLabelValues(string(answered)).Inc()
	log.Info("onboarding response processed",
		zap.String("step", string(answered)),
		zap.String("next_step", string(st.CurrentStep)))

	o.send(ctx, phone, promptFor(st.CurrentStep, st.CollectedData), b)
	return nil
}

func (o *Onboarding) confirm(ctx context.Context, st *model.OnboardingState, text string, b *model.Business) error {
	log := o.logger.With(zap.String("customer_phone", st.PhoneNumber))

	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "YES":
		profile := ParseProfile(st.CollectedData)
		business, err := o.store.CompleteOnboarding(ctx, st, profile)
		if err != nil {
			metrics.OnboardingTransitionsTotal.WithLabelValues("save_failed").Inc()
			o.send(ctx, st.PhoneNumber, saveFailedMessage, b)
			return fmt.Errorf("failed to save business profile: %w", err)
		}
		metrics.OnboardingTransitionsTotal.WithLabelValues("complete").Inc()
		log.Info("onboarding completed", zap.Int64("business_id", business.ID), zap.String("business_name", business.Name))

		o.send(ctx, st.PhoneNumber, completionMessage, b)
		o.events.Emit(ctx, &model.ReplyEvent{
			Type:          model.EventTypeOnboardingCompleted,
			BusinessID:    business.ID,
			CustomerPhone: st.PhoneNumber,
			Metadata:      map[string]any{"business_name": business.Name},
			CreatedAt:     o.clock.Now().UTC(),
		})
		return nil

	case "EDIT":
		st.CurrentStep = model.StepName
		st.CollectedData = model.CollectedData{}
		if err := o.store.UpdateOnboarding(ctx, st); err != nil {
			return err
		}
		metrics.OnboardingTransitionsTotal.WithLabelValues("edit").Inc()
		log.Info("onboarding restarted")
		o.send(ctx, st.PhoneNumber, "No problem! Let's start over.\n\n"+welcomePrompt, b)
		return nil

	default:
		o.send(ctx, st.PhoneNumber, invalidConfirmMessage, b)
		return nil
	}
}

// send delivers an onboarding prompt. Delivery failures do not roll back state.
func (o *Onboarding) send(ctx context.Context, phone, text string, b *model.Business) {
	if _, err := o.gateway.Send(ctx, phone, text, b); err != nil {
		o.logger.Error("failed to send onboarding message", zap.String("customer_phone", phone), zap.Error(err))
	}
}

func promptFor(step model.Step, data model.CollectedData) string {
	switch step {
	case model.StepName:
		return welcomePrompt
	case model.StepServices:
		return "Great! What services do you offer?\n\n(One per line as *Name - Price*, e.g. Haircut - 25)"
	case model.StepAreas:
		return "Which areas do you cover?\n\n(List areas separated by commas)"
	case model.StepHours:
		return "What are your operating hours?\n\n(One per line, e.g. Monday: 09:00-18:00 or Sunday: Closed)"
	case model.StepBooking:
		return "How should customers book appointments with you?"
	case model.StepConfirm:
		return summary(data)
	default:
		return welcomePrompt
	}
}

func summary(data model.CollectedData) string {
	value := func(step model.Step) string {
		if v, ok := data[step]; ok {
			return v
		}
		return "N/A"
	}
	return "📋 *Business Profile Summary*\n\n" +
		"🏢 *Business Name:* " + value(model.StepName) + "\n\n" +
		"💼 *Services:* " + value(model.StepServices) + "\n\n" +
		"📍 *Coverage Areas:* " + value(model.StepAreas) + "\n\n" +
		"🕐 *Operating Hours:* " + value(model.StepHours) + "\n\n" +
		"📅 *Booking Method:* " + value(model.StepBooking) + "\n\n" +
		"---\n\n" +
		"Is this correct?\n\n" +
		"Reply *YES* to confirm or *EDIT* to start over."
}

// ParseProfile converts collected answers into a structured business profile.
func ParseProfile(data model.CollectedData) store.BusinessProfile {
	return store.BusinessProfile{
		Name:           data[model.StepName],
		Services:       ParseServices(data[model.StepServices]),
		Areas:          ParseAreas(data[model.StepAreas]),
		OperatingHours: ParseHours(data[model.StepHours]),
		BookingMethod:  data[model.StepBooking],
	}
}

// ParseServices reads one "Name - Price" per line. The price follows the last " - ".
// Other lines are skipped.
func ParseServices(text string) model.Services {
	services := model.Services{}
	for _, line := range strings.Split(text, "\n") {
		m := servicePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		services = append(services, model.Service{
			Name:  strings.TrimSpace(m[1]),
			Price: strings.TrimSpace(m[2]),
		})
	}
	return services
}

// ParseAreas splits a comma separated list, dropping blanks.
func ParseAreas(text string) model.Areas {
	areas := model.Areas{}
	for _, part := range strings.Split(text, ",") {
		if area := strings.TrimSpace(part); area != "" {
			areas = append(areas, area)
		}
	}
	return areas
}

// ParseHours reads one "Day: HH:MM-HH:MM" or "Day: Closed" per line.
// Unknown days and unparseable times are skipped.
func ParseHours(text string) model.OperatingHours {
	hours := model.OperatingHours{}
	for _, line := range strings.Split(text, "\n") {
		m := hoursLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		day, ok := normalizeDay(m[1])
		if !ok {
			continue
		}
		rest := m[2]

		if strings.Contains(strings.ToLower(rest), "closed") {
			hours[day] = model.DayHours{Closed: true}
			continue
		}
		r := hoursRange.FindStringSubmatch(rest)
		if r == nil {
			continue
		}
		open, ok1 := clockTime(r[1], r[2])
		closeAt, ok2 := clockTime(r[3], r[4])
		if !ok1 || !ok2 {
			continue
		}
		hours[day] = model.DayHours{Open: open, Close: closeAt}
	}
	return hours
}

func normalizeDay(s string) (string, bool) {
	day := strings.ToLower(s)
	if full, ok := dayAliases[day]; ok {
		day = full
	}
	for _, d := range model.Weekdays {
		if d == day {
			return day, true
		}
	}
	return "", false
}

func clockTime(hour, minute string) (string, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h > 23 {
		return "", false
	}
	m, err := strconv.Atoi(minute)
	if err != nil || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}
