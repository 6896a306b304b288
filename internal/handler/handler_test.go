package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahuti/autoreply/internal/cache"
	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/middleware"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/service"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/internal/whatsapp"
	"github.com/sahuti/autoreply/pkg/logger"
)

const (
	jwtSecret     = "test-jwt-secret"
	appSecret     = "global-app-secret"
	verifyToken   = "global-verify-token"
	phoneNumberID = "1000001"
)

type recordingSender struct {
	mu     sync.Mutex
	bodies []string
}

func (s *recordingSender) SendText(_ context.Context, _ whatsapp.Credentials, _, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	return fmt.Sprintf("wamid.out.%d", len(s.bodies)), nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

type testServer struct {
	handler http.Handler
	store   *store.Store
	sender  *recordingSender
	secrets *service.SecretStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	st, err := store.Open(":memory:", store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enc, err := crypto.NewCredentialEncryptor("handler-test-key")
	require.NoError(t, err)
	secrets := service.NewSecretStore(enc, service.GlobalCredentials{
		PhoneNumberID: "9999999",
		AccessToken:   "global-token",
		AppSecret:     appSecret,
		VerifyToken:   verifyToken,
	})

	sender := &recordingSender{}
	sink := service.NewEventSink(nil, log)
	tenants := service.NewTenantDirectory(st, log)
	pauses := service.NewPauseStore(st, clock, 0, log)
	gateway := service.NewGateway(sender, st, secrets, pauses, log)
	limiter := service.NewRateLimiter(cache.NewMemory(clock), st, clock, 5*time.Second)
	replies := service.NewReplyGenerator(nil, service.LLMConfig{}, clock, time.UTC, log)
	onboarding := service.NewOnboarding(st, gateway, sink, clock, log)
	orch := service.NewOrchestrator(service.OrchestratorDeps{
		Store:      st,
		Tenants:    tenants,
		Gateway:    gateway,
		Secrets:    secrets,
		Onboarding: onboarding,
		Pauses:     pauses,
		Limiter:    limiter,
		Replies:    replies,
		Events:     sink,
		Clock:      clock,
		Logger:     log,
	})
	admin := service.NewAdmin(st, secrets, gateway, pauses, nil, sink, log)

	router := NewRouter(RouterConfig{
		JWTSecret:         jwtSecret,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}, log, NewHealthHandler(st, nil, nil), NewWebhookHandler(orch, log), NewAdminHandler(admin, log))

	return &testServer{handler: router, store: st, sender: sender, secrets: secrets}
}

func (s *testServer) seedBusiness(t *testing.T) *model.Business {
	t.Helper()
	token, err := s.secrets.Seal("tenant-token")
	require.NoError(t, err)
	b := &model.Business{
		OwnerPhone:     model.StringPtr("60120000000"),
		Name:           "Kedai Rambut Ali",
		Services:       model.Services{{Name: "Haircut", Price: "25"}},
		Areas:          model.Areas{"Klang"},
		OperatingHours: model.OperatingHours{"monday": {Open: "09:00", Close: "18:00"}},
		BookingMethod:  "WhatsApp us",
		IsOnboarded:    true,
		PhoneNumberID:  model.StringPtr(phoneNumberID),
		WAStatus:       model.WAStatusConnected,
		AccessToken:    token,
	}
	require.NoError(t, s.store.CreateBusiness(context.Background(), b))
	return b
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := middleware.IssueToken(jwtSecret, "ops@example.com", scopes, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

const webhookPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "60300000000", "phone_number_id": "1000001"},
        "messages": [{"id": "wamid.in.1", "from": "60111111111", "timestamp": "1772445600", "type": "text", "text": {"body": "price?"}}]
      }
    }]
  }]
}`

func TestWebhookVerify(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token="+verifyToken+"&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = srv.do(httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub_mode=subscribe&hub_verify_token=wrong&hub_challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", rec.Body.String())
}

func TestWebhookReceive(t *testing.T) {
	t.Run("unsigned delivery is processed", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seedBusiness(t)

		rec := srv.do(httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookPayload)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
		assert.Equal(t, 1, srv.sender.count())
	})

	t.Run("valid signature", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seedBusiness(t)

		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookPayload))
		req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(webhookPayload), appSecret))
		rec := srv.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, srv.sender.count())
	})

	t.Run("bad signature", func(t *testing.T) {
		srv := newTestServer(t)
		srv.seedBusiness(t)

		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookPayload))
		req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(webhookPayload), "not-the-secret"))
		rec := srv.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", rec.Body.String())
		assert.Zero(t, srv.sender.count())

		msg, err := srv.store.GetMessageByMessageID(context.Background(), "wamid.in.1")
		require.NoError(t, err)
		assert.Nil(t, msg, "rejected deliveries store nothing")
	})

	t.Run("malformed payload", func(t *testing.T) {
		srv := newTestServer(t)
		rec := srv.do(httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{"entry": [`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("policy drops still acknowledge", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookPayload)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, srv.sender.count())
	})
}

func TestAdminRequiresToken(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/admin/businesses", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/businesses", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, srv.do(req).Code)

	req = httptest.NewRequest(http.MethodPut, "/api/admin/businesses/1/llm", strings.NewReader(`{"enabled":true}`))
	req.Header.Set("Authorization", bearer(t, middleware.ScopeAdminRead))
	assert.Equal(t, http.StatusForbidden, srv.do(req).Code)
}

func TestAdminBusinesses(t *testing.T) {
	srv := newTestServer(t)
	b := srv.seedBusiness(t)
	auth := bearer(t, middleware.ScopeAdminRead, middleware.ScopeAdminWrite)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/businesses", nil)
	req.Header.Set("Authorization", auth)
	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), string(b.AccessToken))

	var list struct {
		Businesses []struct {
			ID                int64  `json:"id"`
			Name              string `json:"name"`
			WhatsAppConnected bool   `json:"whatsapp_connected"`
		} `json:"businesses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Businesses, 1)
	assert.Equal(t, "Kedai Rambut Ali", list.Businesses[0].Name)
	assert.True(t, list.Businesses[0].WhatsAppConnected)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/businesses/99", nil)
	req.Header.Set("Authorization", auth)
	assert.Equal(t, http.StatusNotFound, srv.do(req).Code)

	req = httptest.NewRequest(http.MethodPut, "/api/admin/businesses/1/whatsapp", strings.NewReader(`{"phone_number_id":"abc"}`))
	req.Header.Set("Authorization", auth)
	assert.Equal(t, http.StatusUnprocessableEntity, srv.do(req).Code)

	req = httptest.NewRequest(http.MethodPut, "/api/admin/businesses/1/llm", strings.NewReader(`{"enabled":true}`))
	req.Header.Set("Authorization", auth)
	rec = srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"llm_enabled":true`)
}

func TestAdminManualReply(t *testing.T) {
	srv := newTestServer(t)
	srv.seedBusiness(t)
	auth := bearer(t, middleware.ScopeAdminWrite)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/businesses/1/replies",
		strings.NewReader(`{"to":"60111111111","message":"Ali here, one moment"}`))
	req.Header.Set("Authorization", auth)
	rec := srv.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "paused_until")
	assert.Equal(t, 1, srv.sender.count())

	// The paused customer gets no auto-reply.
	rec = srv.do(httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(webhookPayload)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.sender.count())

	req = httptest.NewRequest(http.MethodPost, "/api/admin/businesses/1/replies",
		strings.NewReader(`{"to":"not-a-phone","message":"hi"}`))
	req.Header.Set("Authorization", auth)
	assert.Equal(t, http.StatusUnprocessableEntity, srv.do(req).Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIDHeader))

	h := NewHealthHandler(srv.store, failingPinger{}, nil)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats unavailable")
}
