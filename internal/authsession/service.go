// Package authsession is the authentication session engine: the session
// state machine, the per-channel verification algorithms and the hand-off to
// credential issuance. Storage, delivery and transport are collaborators
// injected through Options.
package authsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/logging"
	"github.com/iliyamo/phone-signin/internal/metrics"
	"github.com/iliyamo/phone-signin/internal/model"
	"github.com/iliyamo/phone-signin/internal/otp"
	"github.com/iliyamo/phone-signin/internal/ratelimit"
	"github.com/iliyamo/phone-signin/internal/repository"
	"github.com/iliyamo/phone-signin/internal/widget"
)

var (
	errNoDeliverer    = errors.New("no code deliverer configured")
	errNoWidgetSecret = errors.New("no widget secret configured")
	errNoBotName      = errors.New("bot name not configured")
)

// Options wires a Service. Sessions, Users, Events, Limiter and Issuer are
// required.
type Options struct {
	Sessions  SessionStore
	Users     UserStore
	Events    EventStore
	Limiter   ratelimit.Limiter
	Issuer    *credential.Issuer
	Deliverer Deliverer // nil disables the coded-message channel
	Transport string    // delivery label for metrics
	Publisher Publisher // optional
	Logger    *slog.Logger
	Now       func() time.Time

	// Channels lists the enabled channels; empty enables all of them.
	Channels      []model.Channel
	WidgetSecret  string
	WidgetMaxAge  time.Duration
	AllowedOrigin string
	BotName       string
}

// Service implements the five caller-facing operations plus the two entry
// points used by the bot conversation driver.
type Service struct {
	sessions  SessionStore
	users     UserStore
	events    EventStore
	limiter   ratelimit.Limiter
	issuer    *credential.Issuer
	deliverer Deliverer
	transport string
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time

	widget        *widget.Verifier
	allowedOrigin string
	botName       string

	channels map[model.Channel]AuthChannel
}

// New validates opts and builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Sessions == nil || opts.Users == nil || opts.Events == nil {
		return nil, oops.Code("AUTH_CONFIG").Errorf("session, user and event stores are required")
	}
	if opts.Limiter == nil || opts.Issuer == nil {
		return nil, oops.Code("AUTH_CONFIG").Errorf("limiter and credential issuer are required")
	}
	s := &Service{
		sessions:      opts.Sessions,
		users:         opts.Users,
		events:        opts.Events,
		limiter:       opts.Limiter,
		issuer:        opts.Issuer,
		deliverer:     opts.Deliverer,
		transport:     opts.Transport,
		publisher:     opts.Publisher,
		log:           opts.Logger,
		now:           opts.Now,
		allowedOrigin: opts.AllowedOrigin,
		botName:       strings.TrimPrefix(strings.TrimSpace(opts.BotName), "@"),
		channels:      make(map[model.Channel]AuthChannel),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.transport == "" {
		s.transport = "default"
	}
	if opts.WidgetSecret != "" {
		s.widget = widget.NewVerifier(opts.WidgetSecret, opts.WidgetMaxAge)
	}

	all := []AuthChannel{codedMessage{s}, widgetChannel{s}, botChannel{s}}
	enabled := map[model.Channel]bool{}
	for _, ch := range opts.Channels {
		enabled[ch] = true
	}
	for _, ch := range all {
		if len(enabled) == 0 || enabled[ch.Name()] {
			s.channels[ch.Name()] = ch
		}
	}
	return s, nil
}

// Channel returns the enabled channel named ch. Unknown or disabled channels
// are reported as not found.
func (s *Service) Channel(ch model.Channel) (AuthChannel, error) {
	c, ok := s.channels[ch]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// RequestCode starts a coded-message verification for phone.
func (s *Service) RequestCode(ctx context.Context, phone string, caller Caller) (Begun, error) {
	ch, err := s.Channel(model.ChannelCodedMessage)
	if err != nil {
		return Begun{}, err
	}
	return ch.Begin(ctx, BeginRequest{Phone: strings.TrimSpace(phone), Caller: caller})
}

// RequestBotHandshake creates a bot-otp session and returns its correlation
// handle. phone is optional.
func (s *Service) RequestBotHandshake(ctx context.Context, phone string, caller Caller) (Begun, error) {
	ch, err := s.Channel(model.ChannelBotOTP)
	if err != nil {
		return Begun{}, err
	}
	return ch.Begin(ctx, BeginRequest{Phone: strings.TrimSpace(phone), Caller: caller})
}

// WidgetLogin verifies a signed login-widget assertion and issues a
// credential immediately.
func (s *Service) WidgetLogin(ctx context.Context, p widget.Payload, caller Caller) (Result, error) {
	ch, err := s.Channel(model.ChannelWidget)
	if err != nil {
		return Result{}, err
	}
	res, err := ch.Complete(ctx, CompleteRequest{Widget: p, Caller: caller})
	s.recordVerification(model.ChannelWidget, err)
	return res, err
}

// VerifyRequest submits a code. SessionID wins over Phone when both are set;
// Channel defaults to coded-message.
type VerifyRequest struct {
	SessionID string
	Phone     string
	Channel   model.Channel
	Code      string
	Caller    Caller
}

// Verify checks a code against its session and issues a credential.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (Result, error) {
	if req.Channel == "" {
		req.Channel = model.ChannelCodedMessage
	}
	if req.Channel == model.ChannelWidget {
		return Result{}, ErrInvalidInput
	}
	ch, err := s.Channel(req.Channel)
	if err != nil {
		return Result{}, err
	}
	res, err := ch.Complete(ctx, CompleteRequest{
		SessionID: strings.TrimSpace(req.SessionID),
		Phone:     strings.TrimSpace(req.Phone),
		Code:      strings.TrimSpace(req.Code),
		Caller:    req.Caller,
	})
	s.recordVerification(req.Channel, err)
	return res, err
}

// StatusView is the read-only projection returned by Status.
type StatusView struct {
	SessionID string
	State     model.SessionState
	Channel   model.Channel
	Phone     string
}

// Status reports a session's state, expiring it first if its deadline has
// passed.
func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return StatusView{}, ErrInvalidInput
	}
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return StatusView{}, ErrNotFound
	}
	if err != nil {
		return StatusView{}, s.internal("AUTH_SESSION_READ", err, "session_id", id)
	}
	if now := s.now(); sess.Pending() && sess.ExpiredAt(now) {
		if err := s.sessions.Expire(ctx, sess.ID, now); err == nil {
			sess.State = model.StateExpired
		} else if errors.Is(err, repository.ErrStateConflict) {
			// Someone else moved it first; report what they left behind.
			if fresh, rerr := s.sessions.GetSession(ctx, id); rerr == nil {
				sess = fresh
			}
		} else {
			return StatusView{}, s.internal("AUTH_SESSION_EXPIRE", err, "session_id", id)
		}
	}
	return StatusView{SessionID: sess.ID, State: sess.State, Channel: sess.Channel, Phone: sess.Phone}, nil
}

// BindConversation attaches a bot chat to the pending session carrying
// token. Binding the same chat twice succeeds.
func (s *Service) BindConversation(ctx context.Context, token, chatRef, userRef string) (model.AuthSession, error) {
	if _, err := s.Channel(model.ChannelBotOTP); err != nil {
		return model.AuthSession{}, err
	}
	if token == "" || chatRef == "" {
		return model.AuthSession{}, ErrInvalidInput
	}
	sess, err := s.sessions.PendingByCorrelation(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return model.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return model.AuthSession{}, s.internal("AUTH_SESSION_READ", err)
	}
	now := s.now()
	if sess.ExpiredAt(now) {
		s.expire(ctx, sess.ID, now)
		return model.AuthSession{}, ErrExpired
	}
	err = s.sessions.AttachEndpoint(ctx, sess.ID, chatRef, userRef, now)
	switch {
	case errors.Is(err, repository.ErrStateConflict), errors.Is(err, repository.ErrNotFound):
		return model.AuthSession{}, ErrNotFound
	case err != nil:
		return model.AuthSession{}, s.internal("AUTH_SESSION_ATTACH", err, "session_id", sess.ID)
	}
	sess.ExternalChatRef, sess.ExternalUserRef = chatRef, userRef
	s.log.Info("auth.bot.bound", "session_id", sess.ID)
	return sess, nil
}

// IssuedCode is a fresh code issued into a bot session.
type IssuedCode struct {
	SessionID string
	Code      string
	ExpiresIn time.Duration
}

// IssueConversationCode establishes phone on the pending bot session bound
// to chatRef and issues a new code into it. Attempts reset and the deadline
// is re-derived from now.
func (s *Service) IssueConversationCode(ctx context.Context, chatRef, phone string) (IssuedCode, error) {
	if _, err := s.Channel(model.ChannelBotOTP); err != nil {
		return IssuedCode{}, err
	}
	sess, err := s.sessions.PendingByChat(ctx, chatRef)
	if errors.Is(err, repository.ErrNotFound) {
		return IssuedCode{}, ErrNotFound
	}
	if err != nil {
		return IssuedCode{}, s.internal("AUTH_SESSION_READ", err)
	}
	now := s.now()
	if sess.ExpiredAt(now) {
		s.expire(ctx, sess.ID, now)
		return IssuedCode{}, ErrExpired
	}
	if !ValidPhone(phone) {
		return IssuedCode{}, ErrInvalidInput
	}
	if !s.allow(ctx, "phone", ratelimit.PhoneKey(phone)) {
		return IssuedCode{}, ErrRateLimited
	}
	code, digest, err := s.newCode()
	if err != nil {
		return IssuedCode{}, err
	}
	err = s.sessions.Reissue(ctx, sess.ID, phone, digest, now.Add(model.SessionTTL), now)
	switch {
	case errors.Is(err, repository.ErrStateConflict), errors.Is(err, repository.ErrNotFound):
		return IssuedCode{}, ErrNotFound
	case err != nil:
		return IssuedCode{}, s.internal("AUTH_SESSION_REISSUE", err, "session_id", sess.ID)
	}
	metrics.RecordCodeIssued(string(model.ChannelBotOTP))
	s.log.Info("auth.bot.code_issued", "session_id", sess.ID)
	return IssuedCode{SessionID: sess.ID, Code: code, ExpiresIn: model.SessionTTL}, nil
}

// userResolver maps a session about to be confirmed to its identity.
type userResolver func(ctx context.Context, sess model.AuthSession, now time.Time) (model.User, error)

// verifyCode runs the shared code check for coded-message and bot-otp.
func (s *Service) verifyCode(ctx context.Context, channel model.Channel, req CompleteRequest, resolve userResolver) (Result, error) {
	if !otp.WellFormed(req.Code) {
		return Result{}, ErrInvalidInput
	}
	if req.SessionID == "" && !ValidPhone(req.Phone) {
		return Result{}, ErrInvalidInput
	}

	sess, err := s.lookup(ctx, channel, req)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, s.internal("AUTH_SESSION_READ", err)
	}
	if sess.Channel != channel {
		return Result{}, ErrNotFound
	}
	switch sess.State {
	case model.StateConfirmed:
		// The code was already used.
		return Result{}, ErrInvalidCode
	case model.StateExpired:
		return Result{}, ErrExpired
	}

	now := s.now()
	if sess.Attempts >= model.MaxAttempts {
		s.expire(ctx, sess.ID, now)
		return Result{}, ErrInvalidCode
	}
	if sess.ExpiredAt(now) {
		s.expire(ctx, sess.ID, now)
		return Result{}, ErrExpired
	}
	if !sess.HasCode() {
		return Result{}, ErrNotReady
	}

	// The attempt is spent before the comparison so concurrent guesses draw
	// on one budget.
	attempts, err := s.sessions.ReserveAttempt(ctx, sess.ID, now)
	switch {
	case errors.Is(err, repository.ErrStateConflict):
		if attempts >= model.MaxAttempts {
			s.expire(ctx, sess.ID, now)
		}
		return Result{}, ErrInvalidCode
	case errors.Is(err, repository.ErrNotFound):
		return Result{}, ErrNotFound
	case err != nil:
		return Result{}, s.internal("AUTH_SESSION_ATTEMPT", err, "session_id", sess.ID)
	}

	if !otp.Verify(sess.CodeHash, req.Code) {
		if attempts >= model.MaxAttempts {
			s.expire(ctx, sess.ID, now)
			s.log.Warn("auth.verify.locked", "session_id", sess.ID)
		}
		return Result{}, ErrInvalidCode
	}

	user, err := resolve(ctx, sess, now)
	if err != nil {
		return Result{}, s.internal("AUTH_USER_UPSERT", err, "channel", channel)
	}
	err = s.sessions.Confirm(ctx, sess.ID, sess.CodeHash, user.ID, now)
	switch {
	case errors.Is(err, repository.ErrStateConflict), errors.Is(err, repository.ErrNotFound):
		// A concurrent request consumed or expired the code first.
		return Result{}, ErrInvalidCode
	case err != nil:
		return Result{}, s.internal("AUTH_SESSION_CONFIRM", err, "session_id", sess.ID)
	}
	return s.finish(ctx, user, channel, req.Caller, now)
}

// lookup resolves the session a code is submitted against. An explicit id
// wins; otherwise the newest pending session for the phone is used, falling
// back to the newest session in any state so a spent or lapsed code is
// reported as such rather than as missing.
func (s *Service) lookup(ctx context.Context, channel model.Channel, req CompleteRequest) (model.AuthSession, error) {
	if req.SessionID != "" {
		return s.sessions.GetSession(ctx, req.SessionID)
	}
	sess, err := s.sessions.LatestPending(ctx, channel, req.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		return s.sessions.LatestSession(ctx, channel, req.Phone)
	}
	return sess, err
}

// finish issues the credential and records the login.
func (s *Service) finish(ctx context.Context, user model.User, channel model.Channel, caller Caller, now time.Time) (Result, error) {
	tok, err := s.issuer.Issue(user.ID, string(channel), now)
	if err != nil {
		return Result{}, s.internal("AUTH_CREDENTIAL", err, "user_id", user.ID)
	}

	ev := model.LoginEvent{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		Channel:   channel,
		IP:        caller.Addr,
		UserAgent: caller.UserAgent,
		CreatedAt: now,
	}
	if err := s.events.AppendLoginEvent(ctx, ev); err != nil {
		logging.LogError(s.log, "auth.login_event.append_failed", err, "user_id", user.ID)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishLogin(ctx, ev); err != nil {
			logging.LogError(s.log, "auth.login_event.publish_failed", err, "user_id", user.ID)
		}
	}
	metrics.RecordCredential(string(channel))
	s.log.Info("auth.login", "user_id", user.ID, "channel", channel)
	return Result{Credential: tok, User: user, Channel: channel}, nil
}

func (s *Service) allow(ctx context.Context, scope, key string) bool {
	if s.limiter.Allow(ctx, key) {
		return true
	}
	metrics.RecordRateLimited(scope)
	s.log.Info("auth.rate_limited", "scope", scope)
	return false
}

func (s *Service) newCode() (code, digest string, err error) {
	code, err = otp.Generate()
	if err != nil {
		return "", "", s.internal("AUTH_CODE_GENERATE", err)
	}
	digest, err = otp.Hash(code)
	if err != nil {
		return "", "", s.internal("AUTH_CODE_HASH", err)
	}
	return code, digest, nil
}

// expire moves a pending session to expired. Losing the race to another
// transition is fine; anything else is logged.
func (s *Service) expire(ctx context.Context, id string, now time.Time) {
	err := s.sessions.Expire(ctx, id, now)
	if err != nil && !errors.Is(err, repository.ErrStateConflict) {
		logging.LogError(s.log, "auth.session.expire_failed", err, "session_id", id)
	}
}

// internal wraps an unexpected fault, logs it and hides it behind KindInternal.
func (s *Service) internal(code string, err error, attrs ...any) error {
	wrapped := oops.Code(code).With(attrs...).Wrap(err)
	logging.LogError(s.log, "auth.internal", wrapped)
	return fail(KindInternal, wrapped)
}

func (s *Service) recordVerification(channel model.Channel, err error) {
	result := metrics.OutcomeSuccess
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.RecordVerification(string(channel), result)
}

func correlationToken() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func botLink(botName, token string) string {
	return "https://t.me/" + botName + "?start=" + token
}
