package session

import (
	"context"
	"sync"
	"time"

	"posadmin/backend/internal/rbac"
)

type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type Event string

const (
	EventRefreshed Event = "refreshed"
	EventEnded     Event = "ended"
)

// Session is the signed-in user's explicit context: identity, store, role
// and effective permissions. It is shared by pointer and safe for concurrent use.
type Session struct {
	mu          sync.RWMutex
	identity    Identity
	storeID     string
	role        *rbac.Role
	permissions rbac.PermissionSet
	startedAt   time.Time
	ended       bool
	nextSubID   int
	subscribers map[int]func(Event, *Session)
}

func newSession(identity Identity, res rbac.Resolution, now time.Time) *Session {
	s := &Session{
		identity:    identity,
		startedAt:   now,
		subscribers: make(map[int]func(Event, *Session)),
	}
	s.apply(res)
	return s
}

func (s *Session) apply(res rbac.Resolution) {
	s.storeID = res.StoreID
	s.role = res.Role
	s.permissions = res.Permissions
}

func (s *Session) Identity() Identity {
	if s == nil {
		return Identity{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) UID() string {
	return s.Identity().UID
}

func (s *Session) StoreID() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storeID
}

// Role returns a copy of the resolved role, or nil when resolution failed.
func (s *Session) Role() *rbac.Role {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.role == nil {
		return nil
	}
	dup := *s.role
	dup.Permissions = append([]rbac.Permission(nil), s.role.Permissions...)
	return &dup
}

func (s *Session) RoleID() string {
	if role := s.Role(); role != nil {
		return role.ID
	}
	return ""
}

func (s *Session) Permissions() []rbac.Permission {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions.List()
}

func (s *Session) StartedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// HasPermission fails closed: a nil or ended session has no permissions.
func (s *Session) HasPermission(p rbac.Permission) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended {
		return false
	}
	return s.permissions.Has(p)
}

func (s *Session) Ended() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Subscribe registers fn for refresh and end notifications and returns a
// function that removes it.
func (s *Session) Subscribe(fn func(Event, *Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Session) notify(event Event) {
	s.mu.RLock()
	subs := make([]func(Event, *Session), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(event, s)
	}
}

type ctxKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached to ctx, or nil.
func FromContext(ctx context.Context) *Session {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
