package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryAccounts is an in-process AccountStore for tests and local runs.
type MemoryAccounts struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]Admin
}

// NewMemoryAccounts returns an empty store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{byID: make(map[int64]Admin)}
}

// Add provisions an account and assigns its id.
func (s *MemoryAccounts) Add(a Admin) (Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	for _, existing := range s.byID {
		if existing.Email == a.Email {
			return Admin{}, ErrConflict
		}
	}
	s.nextID++
	a.ID = s.nextID
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	s.byID[a.ID] = a
	return a, nil
}

func (s *MemoryAccounts) FindByEmail(_ context.Context, email string) (Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.byID {
		if a.Email == email {
			return cloneAdmin(a), nil
		}
	}
	return Admin{}, ErrNotFound
}

func (s *MemoryAccounts) Find(_ context.Context, id int64) (Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Admin{}, ErrNotFound
	}
	return cloneAdmin(a), nil
}

func (s *MemoryAccounts) UpdatePasswordHash(_ context.Context, id int64, expectedHash, newHash string, rotatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if a.PasswordHash != expectedHash {
		return ErrConflict
	}
	a.PasswordHash = newHash
	a.PasswordRotatedAt = &rotatedAt
	a.UpdatedAt = rotatedAt
	s.byID[id] = a
	return nil
}

func (s *MemoryAccounts) SetActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.Active = active
	a.UpdatedAt = time.Now().UTC()
	s.byID[id] = a
	return nil
}

func cloneAdmin(a Admin) Admin {
	if a.PasswordRotatedAt != nil {
		t := *a.PasswordRotatedAt
		a.PasswordRotatedAt = &t
	}
	return a
}

// MemorySessions is an in-process SessionStore. Each method holds the lock
// for its whole check-and-mutate step.
type MemorySessions struct {
	mu    sync.Mutex
	byKey map[string]Session
}

// NewMemorySessions returns an empty keyspace.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{byKey: make(map[string]Session)}
}

func (s *MemorySessions) Insert(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[sess.Key]; ok {
		return ErrConflict
	}
	s.byKey[sess.Key] = cloneSession(sess)
	return nil
}

func (s *MemorySessions) Lookup(_ context.Context, key string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byKey[key]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemorySessions) RevokeIfLive(_ context.Context, key string, at time.Time) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byKey[key]
	if !ok || !sess.Live(at) {
		return Session{}, false, nil
	}
	sess.RevokedAt = &at
	s.byKey[key] = sess
	return cloneSession(sess), true, nil
}

func (s *MemorySessions) DeleteIfExpired(_ context.Context, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byKey[key]
	if !ok || now.Before(sess.ExpiresAt) {
		return false, nil
	}
	delete(s.byKey, key)
	return true, nil
}

func (s *MemorySessions) RevokeAllForAdmin(_ context.Context, adminID int64, exceptKey string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, sess := range s.byKey {
		if sess.AdminID != adminID || key == exceptKey || !sess.Live(at) {
			continue
		}
		revokedAt := at
		sess.RevokedAt = &revokedAt
		s.byKey[key] = sess
		n++
	}
	return n, nil
}

func (s *MemorySessions) Sweep(_ context.Context, now, revokedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, sess := range s.byKey {
		expired := !now.Before(sess.ExpiresAt)
		stale := sess.RevokedAt != nil && sess.RevokedAt.Before(revokedBefore)
		if expired || stale {
			delete(s.byKey, key)
			n++
		}
	}
	return n, nil
}

func cloneSession(s Session) Session {
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		s.RevokedAt = &t
	}
	return s
}
