package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/llm"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/metrics"
	"github.com/sahuti/autoreply/pkg/tracing"
)

const (
	// FallbackMessage is sent when nothing else produced a reply.
	FallbackMessage = "Hello! How can we help you today?\n\n" +
		"You can ask about:\n" +
		"• Our services and prices\n" +
		"• Areas we cover\n" +
		"• Operating hours\n" +
		"• How to book\n\n" +
		"Quick menu: reply 1 for prices, 2 for areas, 3 for hours, 4 for booking."

	// EscalationMessage replaces LLM answers that hand off to the owner.
	EscalationMessage = "Thanks for your question! This needs a personal response from our team. " +
		"We'll get back to you shortly."

	maxBundledSections = 3
)

// Intent is a customer question category answered from the business profile.
type Intent int

const (
	IntentPrice Intent = iota
	IntentArea
	IntentHours
	IntentBook
)

func (i Intent) String() string {
	switch i {
	case IntentPrice:
		return "PRICE"
	case IntentArea:
		return "AREA"
	case IntentHours:
		return "HOURS"
	case IntentBook:
		return "BOOK"
	default:
		return fmt.Sprintf("Intent(%d)", int(i))
	}
}

// intentKeywords is checked in order; detection order follows this table.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentPrice, []string{"harga", "price", "berapa", "cost"}},
	{IntentArea, []string{"area", "kawasan", "location", "lokasi"}},
	{IntentHours, []string{"hours", "time", "bila", "when", "operating", "open"}},
	{IntentBook, []string{"book", "tempah", "appointment", "booking"}},
}

var menuIntents = map[string]Intent{
	"1": IntentPrice,
	"2": IntentArea,
	"3": IntentHours,
	"4": IntentBook,
}

var escalationPhrases = []string{
	"need to check with the owner",
	"check with the owner",
	"don't have that specific information",
	"contact the owner directly",
	"reach out to the owner",
	"connect you with the owner",
	"i cannot help with that",
	"i can't help with that",
	"unable to help with that",
	"outside my knowledge",
}

// Reply is a generated answer and how it was produced.
type Reply struct {
	Text       string
	Type       model.ReplyType
	Intents    []Intent
	TokensUsed int
}

// Empty reports whether there is nothing to send.
func (r Reply) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// LLMConfig controls the LLM tier.
type LLMConfig struct {
	Enabled     bool
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ReplyGenerator answers customer messages from a business profile.
type ReplyGenerator struct {
	llm      llm.Client
	cfg      LLMConfig
	clock    clockwork.Clock
	location *time.Location
	logger   *logger.Logger
}

// NewReplyGenerator creates a reply generator. client may be nil when no provider is configured.
// Operating hours are evaluated in loc.
func NewReplyGenerator(client llm.Client, cfg LLMConfig, clock clockwork.Clock, loc *time.Location, log *logger.Logger) *ReplyGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &ReplyGenerator{
		llm:      client,
		cfg:      cfg,
		clock:    clock,
		location: loc,
		logger:   log.Named("reply"),
	}
}

// LLMAvailable reports whether the provider is enabled and has a client.
func (g *ReplyGenerator) LLMAvailable() bool {
	return g.cfg.Enabled && g.llm != nil
}

// Generate produces the reply for text. Precedence: menu selection, after-hours,
// keyword intents, LLM, generic fallback.
func (g *ReplyGenerator) Generate(ctx context.Context, text string, b *model.Business) Reply {
	trimmed := strings.TrimSpace(text)

	if intent, ok := menuIntents[trimmed]; ok {
		return Reply{Text: Section(intent, b), Type: model.ReplyTypeMenuSelection, Intents: []Intent{intent}}
	}

	if IsAfterHours(b.OperatingHours, g.clock.Now().In(g.location)) {
		return Reply{Text: AfterHoursMessage(b.OperatingHours), Type: model.ReplyTypeAfterHours}
	}

	if intents := DetectIntents(text); len(intents) > 0 {
		return Reply{Text: BundleSections(intents, b), Type: model.ReplyTypeRule, Intents: intents}
	}

	if b.LLMEnabled && g.LLMAvailable() {
		return g.generateLLM(ctx, text, b)
	}

	return Reply{Text: FallbackMessage, Type: model.ReplyTypeFallback}
}

func (g *ReplyGenerator) generateLLM(ctx context.Context, text string, b *model.Business) Reply {
	ctx, span := tracing.Tracer("reply").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", g.llm.Name()), attribute.Int64("business_id", b.ID))

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.llm.Complete(ctx, &llm.Prompt{
		Model:       g.cfg.Model,
		System:      BuildSystemPrompt(b),
		User:        "Customer message: " + text,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm failed")
		metrics.RecordLLM(g.llm.Name(), g.cfg.Model, "error", elapsed, 0, 0)
		g.logger.Error("LLM generation failed", zap.Int64("business_id", b.ID), zap.Error(err))
		return Reply{Text: EscalationMessage, Type: model.ReplyTypeEscalation}
	}
	metrics.RecordLLM(g.llm.Name(), g.cfg.Model, "ok", elapsed, resp.InputTokens, resp.OutputTokens)

	escalate := NeedsEscalation(resp.Text) || strings.TrimSpace(resp.Text) == ""
	g.logger.Info("LLM reply generated",
		zap.Int64("business_id", b.ID),
		zap.Int("tokens", resp.Tokens()),
		zap.Bool("escalation", escalate))

	if escalate {
		return Reply{Text: EscalationMessage, Type: model.ReplyTypeEscalation, TokensUsed: resp.Tokens()}
	}
	return Reply{Text: resp.Text, Type: model.ReplyTypeLLM, TokensUsed: resp.Tokens()}
}

// DetectIntents returns the intents mentioned in text, each at most once, in table order.
func DetectIntents(text string) []Intent {
	lower := strings.ToLower(text)
	var intents []Intent
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				intents = append(intents, entry.intent)
				break
			}
		}
	}
	return intents
}

// BundleSections renders up to three intent sections separated by blank lines.
func BundleSections(intents []Intent, b *model.Business) string {
	if len(intents) > maxBundledSections {
		intents = intents[:maxBundledSections]
	}
	sections := make([]string, 0, len(intents))
	for _, intent := range intents {
		sections = append(sections, Section(intent, b))
	}
	return strings.Join(sections, "\n\n")
}

// Section renders the profile answer for intent. It is never empty.
func Section(intent Intent, b *model.Business) string {
	switch intent {
	case IntentPrice:
		return PriceSection(b.Services)
	case IntentArea:
		return AreaSection(b.Areas)
	case IntentHours:
		return HoursSection(b.OperatingHours)
	case IntentBook:
		return BookingSection(b.BookingMethod)
	default:
		return FallbackMessage
	}
}

// PriceSection lists services with prices.
func PriceSection(services model.Services) string {
	var sb strings.Builder
	sb.WriteString("💰 *Our Services & Prices:*\n")
	if len(services) == 0 {
		sb.WriteString("Please contact us for pricing details.")
		return sb.String()
	}
	for _, s := range services {
		fmt.Fprintf(&sb, "• %s: RM%s\n", s.Name, s.Price)
	}
	return strings.TrimSpace(sb.String())
}

// AreaSection lists covered areas.
func AreaSection(areas model.Areas) string {
	header := "📍 *Areas We Cover:*\n"
	if len(areas) == 0 {
		return header + "We serve various locations. Contact us for details."
	}
	return header + strings.Join(areas, ", ")
}

// HoursSection lists the weekly schedule.
func HoursSection(hours model.OperatingHours) string {
	header := "🕐 *Operating Hours:*\n"
	if len(hours) == 0 {
		return header + "Please contact us for our operating hours."
	}
	return strings.TrimSpace(header + formatSchedule(hours))
}

// BookingSection describes how to book.
func BookingSection(method string) string {
	header := "📅 *How to Book:*\n"
	if strings.TrimSpace(method) == "" {
		return header + "Please contact us to make a booking."
	}
	return header + method
}

// AfterHoursMessage tells the customer the business is closed.
func AfterHoursMessage(hours model.OperatingHours) string {
	var sb strings.Builder
	sb.WriteString("🌙 Thank you for your message!\n\n")
	sb.WriteString("We're currently closed. ")
	if len(hours) == 0 {
		sb.WriteString("We'll get back to you as soon as possible!")
		return sb.String()
	}
	sb.WriteString("Our operating hours are:\n\n")
	sb.WriteString(formatSchedule(hours))
	sb.WriteString("\nWe'll get back to you during business hours!")
	return sb.String()
}

func formatSchedule(hours model.OperatingHours) string {
	var sb strings.Builder
	for _, day := range model.Weekdays {
		h, ok := hours[day]
		if !ok {
			continue
		}
		name := strings.ToUpper(day[:1]) + day[1:]
		if h.Closed {
			fmt.Fprintf(&sb, "• %s: Closed\n", name)
		} else {
			fmt.Fprintf(&sb, "• %s: %s - %s\n", name, h.Open, h.Close)
		}
	}
	return sb.String()
}

// IsAfterHours reports whether now falls outside hours. A business without hours
// is always open; a weekday missing from hours is closed.
func IsAfterHours(hours model.OperatingHours, now time.Time) bool {
	if len(hours) == 0 {
		return false
	}
	day, ok := hours[strings.ToLower(now.Weekday().String())]
	if !ok || day.Closed {
		return true
	}

	open, closeAt := day.Open, day.Close
	if open == "" {
		open = "00:00"
	}
	if closeAt == "" {
		closeAt = "23:59"
	}
	// Zero-padded HH:MM compares correctly as text.
	current := now.Format("15:04")
	return current < open || current > closeAt
}

// NeedsEscalation reports whether an LLM answer hands off to the owner.
func NeedsEscalation(reply string) bool {
	lower := strings.ToLower(reply)
	for _, phrase := range escalationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

type businessProfile struct {
	BusinessName   string               `json:"business_name"`
	Services       model.Services       `json:"services"`
	Areas          model.Areas          `json:"areas"`
	OperatingHours model.OperatingHours `json:"operating_hours"`
	BookingMethod  string               `json:"booking_method"`
}

// BuildSystemPrompt constrains the LLM to the business profile.
func BuildSystemPrompt(b *model.Business) string {
	profile, err := json.MarshalIndent(businessProfile{
		BusinessName:   b.Name,
		Services:       b.Services,
		Areas:          b.Areas,
		OperatingHours: b.OperatingHours,
		BookingMethod:  b.BookingMethod,
	}, "", "    ")
	if err != nil {
		profile = []byte("{}")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a customer support assistant for %s.\n\n", b.Name)
	sb.WriteString("STRICT RULES:\n")
	sb.WriteString("1. ONLY answer using the business profile data provided below\n")
	sb.WriteString("2. Answer questions about services, prices, areas, hours, and booking confidently using the profile\n")
	sb.WriteString("3. If specific information is missing from the profile, politely say 'I need to check with the owner about that'\n")
	sb.WriteString("4. NEVER make up prices, services, areas, or hours\n")
	sb.WriteString("5. NEVER answer questions outside the business scope (politics, news, general advice, etc.)\n")
	sb.WriteString("6. Keep replies concise and helpful (2-3 sentences max)\n")
	sb.WriteString("7. Use a friendly, professional tone\n\n")
	sb.WriteString("BUSINESS PROFILE:\n")
	fmt.Fprintf(&sb, "```json\n%s\n```\n\n", profile)
	sb.WriteString("Provide a natural, helpful reply using ONLY the profile data above.")
	return sb.String()
}
