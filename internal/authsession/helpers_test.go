package authsession_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/phone-signin/internal/authsession"
	"github.com/iliyamo/phone-signin/internal/credential"
	"github.com/iliyamo/phone-signin/internal/model"
	"github.com/iliyamo/phone-signin/internal/ratelimit"
	"github.com/iliyamo/phone-signin/internal/repository"
)

const (
	testSecret       = "0123456789abcdef0123456789abcdef"
	testWidgetSecret = "123456:widget-bot-token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// captureSender records the last code sent to each phone.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (s *captureSender) Send(_ context.Context, phone, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[phone] = code
	return !s.fail
}

func (s *captureSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type capturePublisher struct {
	mu     sync.Mutex
	events []model.LoginEvent
}

func (p *capturePublisher) PublishLogin(_ context.Context, ev model.LoginEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// spyStore counts attempts actually spent and can fail Expire.
type spyStore struct {
	*repository.Memory
	reserved  atomic.Int32
	expireErr error
}

func (s *spyStore) ReserveAttempt(ctx context.Context, id string, now time.Time) (int, error) {
	n, err := s.Memory.ReserveAttempt(ctx, id, now)
	if err == nil {
		s.reserved.Add(1)
	}
	return n, err
}

func (s *spyStore) Expire(ctx context.Context, id string, now time.Time) error {
	if s.expireErr != nil {
		return s.expireErr
	}
	return s.Memory.Expire(ctx, id, now)
}

// withSpy routes session writes through a spyStore over the harness store.
func withSpy(spy **spyStore) func(*authsession.Options) {
	return func(o *authsession.Options) {
		*spy = &spyStore{Memory: o.Sessions.(*repository.Memory)}
		o.Sessions = *spy
	}
}

type harness struct {
	svc    *authsession.Service
	store  *repository.Memory
	clock  *fakeClock
	sender *captureSender
	pub    *capturePublisher
	issuer *credential.Issuer
}

func newHarness(t *testing.T, mutate ...func(*authsession.Options)) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	issuer, err := credential.NewIssuer(credential.Options{Secret: testSecret, Issuer: "auth-service", Audience: "app"})
	require.NoError(t, err)

	h := &harness{
		store:  repository.NewMemory(),
		clock:  clock,
		sender: &captureSender{},
		pub:    &capturePublisher{},
		issuer: issuer,
	}
	opts := authsession.Options{
		Sessions:     h.store,
		Users:        h.store,
		Events:       h.store,
		Limiter:      ratelimit.NewMemory(ratelimit.Limits{Phone: 5, Addr: 10}, ratelimit.WithClock(clock.Now)),
		Issuer:       issuer,
		Deliverer:    h.sender,
		Transport:    "test",
		Publisher:    h.pub,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          clock.Now,
		WidgetSecret: testWidgetSecret,
		BotName:      "@signin_bot",
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.svc, err = authsession.New(opts)
	require.NoError(t, err)
	return h
}

func (h *harness) status(t *testing.T, id string) model.SessionState {
	t.Helper()
	st, err := h.svc.Status(context.Background(), id)
	require.NoError(t, err)
	return st.State
}

// wrongCode returns a well-formed code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
