package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
)

func TestAdminUpdateCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBusiness(t, testPhoneNumberID, func(b *model.Business) {
		b.PhoneNumberID = nil
		b.WAStatus = model.WAStatusPendingConnect
		b.AccessToken = ""
	})

	got, err := env.admin.UpdateCredentials(ctx, b.ID, CredentialsInput{
		WabaID:        "waba-9",
		PhoneNumberID: "2000002",
		AccessToken:   "EAAG-plain-token",
		AppSecret:     "plain-app-secret",
		VerifyToken:   "tenant-verify-token",
	})
	require.NoError(t, err)

	assert.Equal(t, model.WAStatusConnected, got.WAStatus)
	assert.NotNil(t, got.ConnectedAt)
	assert.True(t, got.IsWhatsAppConnected())
	assert.NotEqual(t, model.Secret("EAAG-plain-token"), got.AccessToken)
	assert.Equal(t, crypto.HashToken("tenant-verify-token"), got.VerifyTokenHash)

	token, err := env.secrets.Reveal(got.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "EAAG-plain-token", token)

	routed, err := env.tenants.Resolve(ctx, "2000002")
	require.NoError(t, err)
	require.NotNil(t, routed)
	assert.Equal(t, b.ID, routed.ID)
	assert.True(t, env.orch.VerifyToken(ctx, "subscribe", "tenant-verify-token"))
}

func TestAdminUpdateCredentialsRejectsTakenPhoneNumberID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedBusiness(t, testPhoneNumberID)
	other := env.seedBusiness(t, "2000002")

	_, err := env.admin.UpdateCredentials(ctx, other.ID, CredentialsInput{
		WabaID:        "waba-9",
		PhoneNumberID: testPhoneNumberID,
		AccessToken:   "token",
	})
	assert.ErrorIs(t, err, ErrPhoneNumberIDInUse)

	// Reconnecting with its own id is fine.
	_, err = env.admin.UpdateCredentials(ctx, other.ID, CredentialsInput{
		WabaID:        "waba-9",
		PhoneNumberID: "2000002",
		AccessToken:   "token",
	})
	assert.NoError(t, err)
}

func TestAdminDisconnectStopsRouting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBusiness(t, testPhoneNumberID)

	got, err := env.admin.Disconnect(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WAStatusDisabled, got.WAStatus)
	assert.False(t, got.CanSendMessages())

	routed, err := env.tenants.Resolve(ctx, testPhoneNumberID)
	require.NoError(t, err)
	assert.Nil(t, routed)
}

func TestAdminResetOnboardingReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBusiness(t, testPhoneNumberID, func(b *model.Business) {
		b.IsOnboarded = false
		b.OwnerPhone = nil
	})
	require.NoError(t, env.onboarding.Start(ctx, ownerPhone, b))

	got, err := env.admin.ResetOnboarding(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnboardingLocked())

	require.NoError(t, env.onboarding.Start(ctx, "60177777777", got))
	active, err := env.onboarding.HasActive(ctx, "60177777777")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestAdminSendManualReplyPauses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBusiness(t, testPhoneNumberID)

	reply, err := env.admin.SendManualReply(ctx, b.ID, customerPhone, "Ali here, one moment")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(DefaultPauseDuration), reply.PausedUntil)
	assert.Equal(t, "manual", reply.Message.Metadata["kind"])

	paused, err := env.pauses.IsPaused(ctx, customerPhone)
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Equal(t, []model.EventType{model.EventTypeManualReply}, env.publisher.types())

	require.NoError(t, env.admin.ResumeAutoReplies(ctx, customerPhone))
	paused, err = env.pauses.IsPaused(ctx, customerPhone)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestAdminSendManualReplyFailureDoesNotPause(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBusiness(t, testPhoneNumberID)
	env.sender.failWith(errSendFailed)

	_, err := env.admin.SendManualReply(ctx, b.ID, customerPhone, "hello")
	assert.ErrorIs(t, err, errSendFailed)

	paused, err := env.pauses.IsPaused(ctx, customerPhone)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestAdminLookups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.admin.GetBusiness(ctx, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.admin.SetLLMEnabled(ctx, 42, true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = env.admin.RecentEvents(ctx, 1, 0, 10)
	assert.ErrorIs(t, err, ErrEventsDisabled)

	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 200, clampLimit(1000))
	assert.Equal(t, 10, clampLimit(10))
}

func TestPauseCleanupRemovesExpiredRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.pauses.Pause(ctx, customerPhone)
	require.NoError(t, err)
	env.clock.Advance(10 * time.Minute)
	_, err = env.pauses.Pause(ctx, "60122222222")
	require.NoError(t, err)

	env.clock.Advance(25 * time.Minute)
	n, err := env.pauses.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pause, err := env.store.GetPause(ctx, "60122222222")
	require.NoError(t, err)
	assert.NotNil(t, pause)
}

func TestRateLimiterClaimIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.limiter.TryAcquire(ctx, customerPhone)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.limiter.TryAcquire(ctx, customerPhone)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, env.limiter.Release(ctx, customerPhone))
	ok, err = env.limiter.TryAcquire(ctx, customerPhone)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterFallsBackToReplyLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.CreateAutoReplyLog(ctx, &model.AutoReplyLog{
		CustomerPhone: customerPhone,
		MessageText:   "price?",
		ReplyText:     "RM25",
		ReplyType:     model.ReplyTypeRule,
	}))
	env.clock.Advance(2 * time.Second)

	limited, err := env.limiter.IsRateLimited(ctx, customerPhone)
	require.NoError(t, err)
	assert.True(t, limited)

	remaining, err := env.limiter.RemainingCooldown(ctx, customerPhone)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, remaining)

	env.clock.Advance(3 * time.Second)
	limited, err = env.limiter.IsRateLimited(ctx, customerPhone)
	require.NoError(t, err)
	assert.False(t, limited)

	remaining, err = env.limiter.RemainingCooldown(ctx, customerPhone)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
