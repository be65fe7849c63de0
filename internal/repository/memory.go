package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/phone-signin/internal/model"
)

// Memory keeps sessions, users and login events in process memory. It backs
// APP_STORE=memory and the engine tests, and honours the same conditional
// update contract as the MySQL repositories.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]model.AuthSession
	users    map[string]model.User
	events   []model.LoginEvent
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]model.AuthSession),
		users:    make(map[string]model.User),
	}
}

// ---- sessions ----

func (m *Memory) CreateSession(_ context.Context, s model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.AuthSession{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) LatestPending(_ context.Context, channel model.Channel, phone string) (model.AuthSession, error) {
	return m.latest(func(s model.AuthSession) bool {
		return s.Channel == channel && s.Phone == phone
	})
}

// LatestSession is LatestPending without the state filter.
func (m *Memory) LatestSession(_ context.Context, channel model.Channel, phone string) (model.AuthSession, error) {
	return m.newest(false, func(s model.AuthSession) bool {
		return s.Channel == channel && s.Phone == phone
	})
}

func (m *Memory) PendingByCorrelation(_ context.Context, token string) (model.AuthSession, error) {
	if token == "" {
		return model.AuthSession{}, ErrNotFound
	}
	return m.latest(func(s model.AuthSession) bool { return s.CorrelationToken == token })
}

func (m *Memory) PendingByChat(_ context.Context, chatRef string) (model.AuthSession, error) {
	if chatRef == "" {
		return model.AuthSession{}, ErrNotFound
	}
	return m.latest(func(s model.AuthSession) bool {
		return s.Channel == model.ChannelBotOTP && s.ExternalChatRef == chatRef
	})
}

// latest returns the most recently created pending session matching keep.
func (m *Memory) latest(keep func(model.AuthSession) bool) (model.AuthSession, error) {
	return m.newest(true, keep)
}

// newest returns the most recently created session matching keep. Session
// ids are ULIDs, so id order breaks CreatedAt ties.
func (m *Memory) newest(pendingOnly bool, keep func(model.AuthSession) bool) (model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []model.AuthSession
	for _, s := range m.sessions {
		if (!pendingOnly || s.State == model.StatePending) && keep(s) {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return model.AuthSession{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	return matches[0], nil
}

// updatePending applies fn to a pending session under the lock.
func (m *Memory) updatePending(id string, fn func(*model.AuthSession) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State != model.StatePending || !fn(&s) {
		return ErrStateConflict
	}
	m.sessions[id] = s
	return nil
}

func (m *Memory) Expire(_ context.Context, id string, now time.Time) error {
	return m.updatePending(id, func(s *model.AuthSession) bool {
		s.State = model.StateExpired
		s.CodeHash = ""
		s.UpdatedAt = now
		return true
	})
}

func (m *Memory) Confirm(_ context.Context, id, codeHash, userID string, now time.Time) error {
	return m.updatePending(id, func(s *model.AuthSession) bool {
		if s.CodeHash == "" || s.CodeHash != codeHash || s.Attempts > model.MaxAttempts {
			return false
		}
		s.State = model.StateConfirmed
		s.CodeHash = ""
		s.UserID = userID
		s.UpdatedAt = now
		return true
	})
}

func (m *Memory) ReserveAttempt(_ context.Context, id string, now time.Time) (int, error) {
	var attempts int
	err := m.updatePending(id, func(s *model.AuthSession) bool {
		attempts = s.Attempts
		if s.Attempts >= model.MaxAttempts {
			return false
		}
		s.Attempts++
		s.UpdatedAt = now
		attempts = s.Attempts
		return true
	})
	return attempts, err
}

func (m *Memory) Reissue(_ context.Context, id, phone, codeHash string, expiresAt, now time.Time) error {
	return m.updatePending(id, func(s *model.AuthSession) bool {
		s.Phone = phone
		s.CodeHash = codeHash
		s.Attempts = 0
		s.ExpiresAt = expiresAt
		s.UpdatedAt = now
		return true
	})
}

func (m *Memory) AttachEndpoint(_ context.Context, id, chatRef, userRef string, now time.Time) error {
	return m.updatePending(id, func(s *model.AuthSession) bool {
		if s.ExternalChatRef != "" && s.ExternalChatRef != chatRef {
			return false
		}
		s.ExternalChatRef = chatRef
		s.ExternalUserRef = userRef
		s.UpdatedAt = now
		return true
	})
}

func (m *Memory) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.State == model.StatePending && now.After(s.ExpiresAt) {
			s.State = model.StateExpired
			s.CodeHash = ""
			s.UpdatedAt = now
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

// ---- users ----

func (m *Memory) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UpsertByTelegramID(_ context.Context, telegramID string, p model.Profile, now time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, found := m.findLocked(func(u model.User) bool { return u.TelegramUserID == telegramID })
	if !found {
		u = model.User{ID: ulid.Make().String(), TelegramUserID: telegramID, CreatedAt: now}
	}
	if p.Name != "" {
		u.Name = p.Name
	}
	if p.Username != "" {
		u.Username = p.Username
	}
	if p.Phone != "" {
		// A phone already owned by another identity stays with its owner.
		if owner, taken := m.findLocked(func(o model.User) bool { return o.Phone == p.Phone }); !taken || owner.ID == u.ID {
			u.Phone = p.Phone
		}
	}
	u.UpdatedAt = now
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) UpsertByPhone(_ context.Context, phone string, now time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, found := m.findLocked(func(u model.User) bool { return u.Phone == phone })
	if !found {
		u = model.User{ID: ulid.Make().String(), Phone: phone, CreatedAt: now}
	}
	u.UpdatedAt = now
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) findLocked(match func(model.User) bool) (model.User, bool) {
	for _, u := range m.users {
		if match(u) {
			return u, true
		}
	}
	return model.User{}, false
}

// ---- login events ----

func (m *Memory) AppendLoginEvent(_ context.Context, ev model.LoginEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	m.events = append(m.events, ev)
	return nil
}

// ListLoginEvents returns the most recent events for userID, newest first.
func (m *Memory) ListLoginEvents(_ context.Context, userID string, limit int) ([]model.LoginEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LoginEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].UserID == userID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

// LoginEvents returns a copy of the audit trail in append order.
func (m *Memory) LoginEvents() []model.LoginEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LoginEvent, len(m.events))
	copy(out, m.events)
	return out
}
