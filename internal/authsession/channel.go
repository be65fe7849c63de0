package authsession

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/metrics"
	"github.com/iliyamo/phone-signin/internal/model"
	"github.com/iliyamo/phone-signin/internal/ratelimit"
	"github.com/iliyamo/phone-signin/internal/repository"
	"github.com/iliyamo/phone-signin/internal/widget"
)

// AuthChannel is one verification pathway. Begin starts a verification
// (issuing a code or a correlation handle); Complete turns proof of control
// into a credential. Channels with no begin phase return ErrNotFound.
type AuthChannel interface {
	Name() model.Channel
	Begin(ctx context.Context, req BeginRequest) (Begun, error)
	Complete(ctx context.Context, req CompleteRequest) (Result, error)
}

// BeginRequest starts a verification.
type BeginRequest struct {
	Phone  string // required for coded-message, optional for bot-otp
	Caller Caller
}

// Begun is the outcome of a successful Begin.
type Begun struct {
	SessionID        string
	ExpiresIn        time.Duration
	CorrelationToken string // bot-otp only
	BotLink          string // bot-otp only
}

// CompleteRequest carries the proof for one channel.
type CompleteRequest struct {
	SessionID string
	Phone     string
	Code      string
	Widget    widget.Payload
	Caller    Caller
}

// Result is a signed credential bound to a resolved user.
type Result struct {
	Credential credential.Token
	User       model.User
	Channel    model.Channel
}

// ---- coded-message ----

type codedMessage struct{ svc *Service }

func (c codedMessage) Name() model.Channel { return model.ChannelCodedMessage }

func (c codedMessage) Begin(ctx context.Context, req BeginRequest) (Begun, error) {
	s := c.svc
	if s.deliverer == nil {
		return Begun{}, fail(KindMisconfigured, errNoDeliverer)
	}
	if !ValidPhone(req.Phone) {
		return Begun{}, ErrInvalidInput
	}
	if !s.allow(ctx, "phone", ratelimit.PhoneKey(req.Phone)) {
		return Begun{}, ErrRateLimited
	}
	if req.Caller.Addr != "" && !s.allow(ctx, "addr", ratelimit.AddrKey(req.Caller.Addr)) {
		return Begun{}, ErrRateLimited
	}

	code, digest, err := s.newCode()
	if err != nil {
		return Begun{}, err
	}
	now := s.now()
	sess := model.AuthSession{
		ID:        ulid.Make().String(),
		Channel:   model.ChannelCodedMessage,
		Phone:     req.Phone,
		CodeHash:  digest,
		State:     model.StatePending,
		ExpiresAt: now.Add(model.SessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return Begun{}, s.internal("AUTH_SESSION_CREATE", err, "channel", sess.Channel)
	}
	metrics.RecordCodeIssued(string(sess.Channel))

	ok := s.deliverer.Send(ctx, req.Phone, code)
	metrics.RecordDelivery(s.transport, ok)
	if !ok {
		// An undelivered code must never verify.
		if err := s.sessions.Expire(ctx, sess.ID, now); err != nil && !errors.Is(err, repository.ErrStateConflict) {
			return Begun{}, s.internal("AUTH_SESSION_EXPIRE", err, "session_id", sess.ID)
		}
		s.log.Warn("auth.request.delivery_failed", "session_id", sess.ID)
		return Begun{}, ErrDeliveryFailed
	}
	s.log.Info("auth.request.sent", "session_id", sess.ID, "channel", sess.Channel)
	return Begun{SessionID: sess.ID, ExpiresIn: model.SessionTTL}, nil
}

func (c codedMessage) Complete(ctx context.Context, req CompleteRequest) (Result, error) {
	return c.svc.verifyCode(ctx, model.ChannelCodedMessage, req, func(ctx context.Context, sess model.AuthSession, now time.Time) (model.User, error) {
		return c.svc.users.UpsertByPhone(ctx, sess.Phone, now)
	})
}

// ---- widget ----

type widgetChannel struct{ svc *Service }

func (w widgetChannel) Name() model.Channel { return model.ChannelWidget }

func (w widgetChannel) Begin(context.Context, BeginRequest) (Begun, error) {
	return Begun{}, ErrNotFound
}

func (w widgetChannel) Complete(ctx context.Context, req CompleteRequest) (Result, error) {
	s := w.svc
	if s.widget == nil {
		return Result{}, fail(KindMisconfigured, errNoWidgetSecret)
	}
	if s.allowedOrigin != "" && req.Caller.Origin != s.allowedOrigin {
		return Result{}, ErrInvalidInput
	}
	now := s.now()
	if req.Widget == nil || !s.widget.Verify(req.Widget, now) {
		return Result{}, ErrSignatureInvalid
	}
	id, _ := req.Widget.ID()
	user, err := s.users.UpsertByTelegramID(ctx, strconv.FormatInt(id, 10), model.Profile{
		Name:     req.Widget.DisplayName(),
		Username: req.Widget.Username(),
	}, now)
	if err != nil {
		return Result{}, s.internal("AUTH_USER_UPSERT", err, "channel", model.ChannelWidget)
	}
	return s.finish(ctx, user, model.ChannelWidget, req.Caller, now)
}

// ---- bot-otp ----

type botChannel struct{ svc *Service }

func (b botChannel) Name() model.Channel { return model.ChannelBotOTP }

func (b botChannel) Begin(ctx context.Context, req BeginRequest) (Begun, error) {
	s := b.svc
	if s.botName == "" {
		return Begun{}, fail(KindMisconfigured, errNoBotName)
	}
	if req.Phone != "" && !ValidPhone(req.Phone) {
		return Begun{}, ErrInvalidInput
	}
	token, err := correlationToken()
	if err != nil {
		return Begun{}, s.internal("AUTH_RANDOM", err)
	}
	now := s.now()
	sess := model.AuthSession{
		ID:               ulid.Make().String(),
		Channel:          model.ChannelBotOTP,
		Phone:            req.Phone,
		State:            model.StatePending,
		ExpiresAt:        now.Add(model.SessionTTL),
		CorrelationToken: token,
		CreatedAt:        now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return Begun{}, s.internal("AUTH_SESSION_CREATE", err, "channel", sess.Channel)
	}
	s.log.Info("auth.bot.handshake", "session_id", sess.ID)
	return Begun{
		SessionID:        sess.ID,
		ExpiresIn:        model.SessionTTL,
		CorrelationToken: token,
		BotLink:          botLink(s.botName, token),
	}, nil
}

func (b botChannel) Complete(ctx context.Context, req CompleteRequest) (Result, error) {
	return b.svc.verifyCode(ctx, model.ChannelBotOTP, req, func(ctx context.Context, sess model.AuthSession, now time.Time) (model.User, error) {
		if sess.ExternalUserRef == "" {
			return b.svc.users.UpsertByPhone(ctx, sess.Phone, now)
		}
		return b.svc.users.UpsertByTelegramID(ctx, sess.ExternalUserRef, model.Profile{Phone: sess.Phone}, now)
	})
}
