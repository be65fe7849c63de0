package authsession_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/phone-signin/internal/authsession"
	"github.com/iliyamo/phone-signin/internal/model"
	"github.com/iliyamo/phone-signin/internal/widget"
)

func signedPayload(secret string, authDate time.Time) widget.Payload {
	p := widget.Payload{
		"id":         "424242",
		"first_name": "Ann",
		"last_name":  "Lee",
		"username":   "annlee",
		"auth_date":  strconv.FormatInt(authDate.Unix(), 10),
	}
	p["hash"] = widget.Sign(p, widget.DeriveKey(secret))
	return p
}

func TestWidgetLogin_IssuesCredential(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.WidgetLogin(ctx, signedPayload(testWidgetSecret, h.clock.Now()), authsession.Caller{Addr: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "424242", res.User.TelegramUserID)
	assert.Equal(t, "Ann Lee", res.User.Name)
	assert.Equal(t, "annlee", res.User.Username)
	assert.Equal(t, model.ChannelWidget, res.Channel)

	claims, err := h.issuer.Parse(res.Credential.Value, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "widget", claims.Channel)

	// A second login refreshes the same identity.
	again, err := h.svc.WidgetLogin(ctx, signedPayload(testWidgetSecret, h.clock.Now()), authsession.Caller{})
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, again.User.ID)
	assert.Len(t, h.store.LoginEvents(), 2)
}

func TestWidgetLogin_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := h.clock.Now()

	tampered := signedPayload(testWidgetSecret, now)
	tampered["username"] = "mallory"

	missingHash := signedPayload(testWidgetSecret, now)
	delete(missingHash, "hash")

	cases := map[string]widget.Payload{
		"tampered":     tampered,
		"stale":        signedPayload(testWidgetSecret, now.Add(-61*time.Second)),
		"wrong secret": signedPayload("another-secret", now),
		"missing hash": missingHash,
		"nil":          nil,
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.WidgetLogin(ctx, p, authsession.Caller{})
			assert.ErrorIs(t, err, authsession.ErrSignatureInvalid)
		})
	}
	assert.Empty(t, h.store.LoginEvents())
}

func TestWidgetLogin_OriginCheck(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(o *authsession.Options) { o.AllowedOrigin = "https://app.example.com" })
	p := signedPayload(testWidgetSecret, h.clock.Now())

	_, err := h.svc.WidgetLogin(ctx, p, authsession.Caller{Origin: "https://evil.example.com"})
	assert.ErrorIs(t, err, authsession.ErrInvalidInput)

	_, err = h.svc.WidgetLogin(ctx, p, authsession.Caller{Origin: "https://app.example.com"})
	assert.NoError(t, err)
}

func TestWidgetLogin_WithoutSecretIsMisconfigured(t *testing.T) {
	h := newHarness(t, func(o *authsession.Options) { o.WidgetSecret = "" })
	_, err := h.svc.WidgetLogin(context.Background(), signedPayload(testWidgetSecret, h.clock.Now()), authsession.Caller{})
	assert.ErrorIs(t, err, authsession.ErrMisconfigured)
}

func TestWidgetChannel_HasNoBeginPhase(t *testing.T) {
	h := newHarness(t)
	ch, err := h.svc.Channel(model.ChannelWidget)
	require.NoError(t, err)
	_, err = ch.Begin(context.Background(), authsession.BeginRequest{})
	assert.ErrorIs(t, err, authsession.ErrNotFound)
}
