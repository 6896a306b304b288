package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sahuti/autoreply/internal/cache"
	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/llm"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/internal/whatsapp"
	"github.com/sahuti/autoreply/pkg/logger"
)

const (
	testPhoneNumberID = "1000001"
	testGlobalID      = "9999999"
	testAppSecret     = "global-app-secret"
	testVerifyToken   = "global-verify-token"
)

// Monday 10:00 UTC.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type sentMessage struct {
	Creds whatsapp.Credentials
	To    string
	Body  string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
	seq  int
}

func (f *fakeSender) SendText(_ context.Context, creds whatsapp.Credentials, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.seq++
	f.sent = append(f.sent, sentMessage{Creds: creds, To: to, Body: body})
	return fmt.Sprintf("wamid.out.%d", f.seq), nil
}

func (f *fakeSender) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) last() sentMessage {
	msgs := f.messages()
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

type fakeLLM struct {
	mu       sync.Mutex
	content  string
	err      error
	panicMsg string
	requests []*llm.Prompt
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.Prompt) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.content, Model: req.Model, InputTokens: 120, OutputTokens: 30}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

type fakePublisher struct {
	mu     sync.Mutex
	events []model.ReplyEvent
	err    error
}

func (f *fakePublisher) PublishEvent(_ context.Context, event *model.ReplyEvent) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, *event)
	return uint64(len(f.events)), nil
}

func (f *fakePublisher) types() []model.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EventType
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store      *store.Store
	clock      *clockwork.FakeClock
	sender     *fakeSender
	llm        *fakeLLM
	publisher  *fakePublisher
	secrets    *SecretStore
	tenants    *TenantDirectory
	gateway    *Gateway
	pauses     *PauseStore
	limiter    *RateLimiter
	replies    *ReplyGenerator
	onboarding *Onboarding
	orch       *Orchestrator
	admin      *Admin
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testNow)
	st, err := store.Open(":memory:", store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enc, err := crypto.NewCredentialEncryptor("test-credentials-key")
	require.NoError(t, err)

	log := logger.Nop()
	env := &testEnv{
		store:     st,
		clock:     clock,
		sender:    &fakeSender{},
		llm:       &fakeLLM{content: "We are happy to help."},
		publisher: &fakePublisher{},
	}
	env.secrets = NewSecretStore(enc, GlobalCredentials{
		PhoneNumberID: testGlobalID,
		AccessToken:   "global-token",
		AppSecret:     testAppSecret,
		VerifyToken:   testVerifyToken,
	})
	sink := NewEventSink(env.publisher, log)
	env.tenants = NewTenantDirectory(st, log)
	env.pauses = NewPauseStore(st, clock, DefaultPauseDuration, log)
	env.gateway = NewGateway(env.sender, st, env.secrets, env.pauses, log)
	env.limiter = NewRateLimiter(cache.NewMemory(clock), st, clock, 5*time.Second)
	env.replies = NewReplyGenerator(env.llm, LLMConfig{
		Enabled:     true,
		Model:       "test-model",
		MaxTokens:   500,
		Temperature: 0.3,
		Timeout:     time.Second,
	}, clock, time.UTC, log)
	env.onboarding = NewOnboarding(st, env.gateway, sink, clock, log)
	env.orch = NewOrchestrator(OrchestratorDeps{
		Store:      st,
		Tenants:    env.tenants,
		Gateway:    env.gateway,
		Secrets:    env.secrets,
		Onboarding: env.onboarding,
		Pauses:     env.pauses,
		Limiter:    env.limiter,
		Replies:    env.replies,
		Events:     sink,
		Clock:      clock,
		Logger:     log,
	})
	env.admin = NewAdmin(st, env.secrets, env.gateway, env.pauses, nil, sink, log)
	return env
}

func weekdayHours() model.OperatingHours {
	return model.OperatingHours{
		"monday":    {Open: "09:00", Close: "18:00"},
		"tuesday":   {Open: "09:00", Close: "18:00"},
		"wednesday": {Open: "09:00", Close: "18:00"},
		"thursday":  {Open: "09:00", Close: "18:00"},
		"friday":    {Open: "09:00", Close: "18:00"},
		"saturday":  {Open: "10:00", Close: "14:00"},
		"sunday":    {Closed: true},
	}
}

// seedBusiness stores an onboarded business connected on phoneNumberID.
func (e *testEnv) seedBusiness(t *testing.T, phoneNumberID string, mutate ...func(*model.Business)) *model.Business {
	t.Helper()
	token, err := e.secrets.Seal("tenant-token-" + phoneNumberID)
	require.NoError(t, err)
	secret, err := e.secrets.Seal("tenant-secret-" + phoneNumberID)
	require.NoError(t, err)

	b := &model.Business{
		OwnerPhone:     model.StringPtr("60120000" + phoneNumberID),
		Name:           "Kedai Rambut Ali",
		Services:       model.Services{{Name: "Haircut", Price: "25"}, {Name: "Colour", Price: "80"}},
		Areas:          model.Areas{"Shah Alam", "Klang"},
		OperatingHours: weekdayHours(),
		BookingMethod:  "WhatsApp us your preferred time",
		IsOnboarded:    true,
		PhoneNumberID:  model.StringPtr(phoneNumberID),
		WAStatus:       model.WAStatusConnected,
		AccessToken:    token,
		AppSecret:      secret,
	}
	for _, fn := range mutate {
		fn(b)
	}
	require.NoError(t, e.store.CreateBusiness(context.Background(), b))
	return b
}

func textMessage(id, from, body string) whatsapp.InboundMessage {
	msg := whatsapp.InboundMessage{ID: id, From: from, Type: "text", Timestamp: "1772445600"}
	msg.Text = &struct {
		Body string `json:"body"`
	}{Body: body}
	return msg
}

func envelope(phoneNumberID string, msgs ...whatsapp.InboundMessage) *whatsapp.Envelope {
	return &whatsapp.Envelope{
		Object: "whatsapp_business_account",
		Entry: []whatsapp.Entry{{
			ID: "waba-1",
			Changes: []whatsapp.Change{{
				Field: "messages",
				Value: whatsapp.Value{
					MessagingProduct: "whatsapp",
					Metadata:         whatsapp.Metadata{PhoneNumberID: phoneNumberID},
					Messages:         msgs,
				},
			}},
		}},
	}
}

var errSendFailed = errors.New("graph api unavailable")
