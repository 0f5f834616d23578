package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/rbac"
)

type Resolver interface {
	Resolve(ctx context.Context, uid string) (rbac.Resolution, error)
}

// Manager owns the live sessions, one per signed-in user.
type Manager struct {
	mu       sync.RWMutex
	resolver Resolver
	logg     *logger.Logger
	now      func() time.Time
	sessions map[string]*Session
}

func NewManager(resolver Resolver, logg *logger.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		logg:     logg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Start resolves the user's store and role and registers a session. A
// previous session of the same user is ended first.
func (m *Manager) Start(ctx context.Context, identity Identity) (*Session, error) {
	res, err := m.resolver.Resolve(ctx, identity.UID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	s := newSession(identity, res, m.now().UTC())

	m.mu.Lock()
	previous := m.sessions[identity.UID]
	m.sessions[identity.UID] = s
	m.mu.Unlock()

	if previous != nil {
		previous.end()
	}
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"user_id":  identity.UID,
		"store_id": res.StoreID,
		"role_id":  roleID(res.Role),
	}), "session.started")
	return s, nil
}

func (m *Manager) Get(uid string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[uid]
	return s, ok
}

// End notifies subscribers and drops the session. Ending an unknown user is a no-op.
func (m *Manager) End(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()

	if ok {
		s.end()
	}
}

func (m *Manager) drop(s *Session) {
	m.mu.Lock()
	if m.sessions[s.UID()] == s {
		delete(m.sessions, s.UID())
	}
	m.mu.Unlock()
	s.end()
}

// Refresh re-resolves one user's session.
func (m *Manager) Refresh(ctx context.Context, uid string) error {
	s, ok := m.Get(uid)
	if !ok {
		return nil
	}
	return m.refresh(ctx, s)
}

// RefreshRole re-resolves every live session currently bound to roleID.
func (m *Manager) RefreshRole(ctx context.Context, roleID string) error {
	m.mu.RLock()
	targets := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.RoleID() == roleID {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	var firstErr error
	for _, s := range targets {
		if err := m.refresh(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) refresh(ctx context.Context, s *Session) error {
	res, err := m.resolver.Resolve(ctx, s.UID())
	if err != nil {
		// the user is gone; the session must not keep stale permissions
		m.drop(s)
		return fmt.Errorf("refresh session: %w", err)
	}

	s.mu.Lock()
	s.apply(res)
	s.mu.Unlock()
	s.notify(EventRefreshed)
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()
	s.notify(EventEnded)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func roleID(role *rbac.Role) string {
	if role == nil {
		return ""
	}
	return role.ID
}
