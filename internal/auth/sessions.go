package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"harborvisa.org/internal/audit"
	"harborvisa.org/internal/obs"
)

const (
	defaultShortTTL       = 8 * time.Hour
	defaultLongTTL        = 14 * 24 * time.Hour
	defaultRevokedRetain  = 24 * time.Hour
	dummyPasswordForLogin = "portal-dummy-password"
)

// Auditor receives privileged-action records. Append must not block on storage.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry)
}

type discardAuditor struct{}

func (discardAuditor) Append(context.Context, audit.Entry) {}

// Manager issues, resolves and revokes administrator sessions.
type Manager struct {
	accounts AccountStore
	sessions SessionStore
	hasher   *Hasher
	creds    *Credentials
	auditor  Auditor
	policy   RolePolicy
	now      func() time.Time
	random   io.Reader

	shortTTL      time.Duration
	longTTL       time.Duration
	revokedRetain time.Duration

	// verified against on unknown emails
	dummyDigest string
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// WithSessionTTL sets the default and remember-me session lifetimes.
func WithSessionTTL(short, long time.Duration) ManagerOption {
	return func(m *Manager) error {
		if short <= 0 || long <= 0 {
			return errors.New("auth: session TTLs must be positive")
		}
		if long < short {
			return errors.New("auth: remember-me TTL must not be shorter than the default TTL")
		}
		m.shortTTL, m.longTTL = short, long
		return nil
	}
}

// WithHasher replaces the default Argon2id hasher.
func WithHasher(h *Hasher) ManagerOption {
	return func(m *Manager) error {
		if h != nil {
			m.hasher = h
		}
		return nil
	}
}

// WithAuditor routes audit entries to a.
func WithAuditor(a Auditor) ManagerOption {
	return func(m *Manager) error {
		if a != nil {
			m.auditor = a
		}
		return nil
	}
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p RolePolicy) ManagerOption {
	return func(m *Manager) error {
		if p != nil {
			m.policy = p
		}
		return nil
	}
}

// WithTokenSource overrides the entropy source for session tokens.
func WithTokenSource(r io.Reader) ManagerOption {
	return func(m *Manager) error {
		if r != nil {
			m.random = r
		}
		return nil
	}
}

// WithRevokedRetention sets how long revoked sessions are kept before Sweep deletes them.
func WithRevokedRetention(d time.Duration) ManagerOption {
	return func(m *Manager) error {
		if d > 0 {
			m.revokedRetain = d
		}
		return nil
	}
}

// NewManager constructs Manager with optional configuration.
func NewManager(accounts AccountStore, sessions SessionStore, opts ...ManagerOption) (*Manager, error) {
	if accounts == nil || sessions == nil {
		return nil, errors.New("auth: account and session stores are required")
	}
	m := &Manager{
		accounts:      accounts,
		sessions:      sessions,
		auditor:       discardAuditor{},
		policy:        DefaultPolicy,
		now:           time.Now,
		random:        rand.Reader,
		shortTTL:      defaultShortTTL,
		longTTL:       defaultLongTTL,
		revokedRetain: defaultRevokedRetain,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.hasher == nil {
		h, err := NewHasher()
		if err != nil {
			return nil, err
		}
		m.hasher = h
	}
	digest, err := m.hasher.Hash(context.Background(), dummyPasswordForLogin)
	if err != nil {
		return nil, fmt.Errorf("auth: dummy digest: %w", err)
	}
	m.dummyDigest = digest
	m.creds = NewCredentials(accounts, m.hasher, m.now)
	return m, nil
}

// Hasher exposes the configured hasher for provisioning tools.
func (m *Manager) Hasher() *Hasher { return m.hasher }

// Login authenticates an administrator and issues a new session.
func (m *Manager) Login(ctx context.Context, email, password string, rememberMe bool) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	admin, err := m.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		m.burnVerify(ctx, password)
		return m.loginFailed(ctx, email)
	case err != nil:
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}

	ok, err := m.hasher.Verify(ctx, admin.PasswordHash, password)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	if !ok || !admin.Active || password == "" {
		return m.loginFailed(ctx, email)
	}

	token, key, err := newSessionToken(m.random)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	now := m.now().UTC()
	ttl := m.shortTTL
	if rememberMe {
		ttl = m.longTTL
	}
	sess := Session{
		Key:        key,
		AdminID:    admin.ID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		RememberMe: rememberMe,
		Origin:     audit.OriginFromContext(ctx),
	}
	if err := m.sessions.Insert(ctx, sess); err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, fmt.Errorf("store session: %w", err)
	}
	obs.ObserveLogin("success")

	m.auditor.Append(ctx, audit.Entry{
		ActorID:      audit.Actor(admin.ID),
		Action:       audit.ActionAdminLogin,
		ResourceType: audit.ResourceAdmin,
		ResourceID:   audit.Resource(strconv.FormatInt(admin.ID, 10)),
		Detail: map[string]any{
			"remember_me": rememberMe,
			"expires_at":  sess.ExpiresAt.Format(time.RFC3339),
		},
	})

	return LoginResult{
		Token:       token,
		Session:     sess,
		Admin:       admin,
		Permissions: m.policy.PermissionsFor(admin.Role),
	}, nil
}

func (m *Manager) loginFailed(ctx context.Context, email string) (LoginResult, error) {
	obs.ObserveLogin("invalid_credentials")
	m.auditor.Append(ctx, audit.Entry{
		Action:       audit.ActionAdminLoginFailed,
		ResourceType: audit.ResourceAdmin,
		Detail:       map[string]any{"email": email},
	})
	return LoginResult{}, ErrInvalidCredentials
}

// burnVerify spends the same work as a real verify so unknown emails are not
// distinguishable by latency.
func (m *Manager) burnVerify(ctx context.Context, password string) {
	_, _ = m.hasher.Verify(ctx, m.dummyDigest, password)
}

// Resolve maps a session token to the live administrator behind it.
// Expired sessions are evicted on read.
func (m *Manager) Resolve(ctx context.Context, token string) (SessionContext, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.ObserveSessionResolve("missing")
		return SessionContext{}, ErrUnauthenticated
	}
	key := SessionKey(token)
	sess, err := m.sessions.Lookup(ctx, key)
	if errors.Is(err, ErrNotFound) {
		obs.ObserveSessionResolve("missing")
		return SessionContext{}, ErrUnauthenticated
	}
	if err != nil {
		obs.ObserveSessionResolve("error")
		return SessionContext{}, err
	}

	now := m.now().UTC()
	if !now.Before(sess.ExpiresAt) {
		if _, err := m.sessions.DeleteIfExpired(ctx, key, now); err != nil {
			obs.Logger().Warn("evict expired session", zap.Int64("admin_id", sess.AdminID), zap.Error(err))
		}
		obs.ObserveSessionResolve("expired")
		return SessionContext{}, ErrUnauthenticated
	}
	if sess.RevokedAt != nil {
		obs.ObserveSessionResolve("revoked")
		return SessionContext{}, ErrUnauthenticated
	}

	admin, err := m.accounts.Find(ctx, sess.AdminID)
	if errors.Is(err, ErrNotFound) {
		obs.ObserveSessionResolve("inactive")
		return SessionContext{}, ErrUnauthenticated
	}
	if err != nil {
		obs.ObserveSessionResolve("error")
		return SessionContext{}, err
	}
	if !admin.Active {
		obs.ObserveSessionResolve("inactive")
		return SessionContext{}, ErrUnauthenticated
	}
	obs.ObserveSessionResolve("active")
	return SessionContext{
		Admin:       admin,
		Session:     sess,
		Permissions: m.policy.PermissionsFor(admin.Role),
	}, nil
}

// Logout revokes the session behind token. Unknown, expired and already
// revoked tokens are not errors.
func (m *Manager) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	sess, revoked, err := m.sessions.RevokeIfLive(ctx, SessionKey(token), m.now().UTC())
	if err != nil {
		return err
	}
	if !revoked {
		return nil
	}
	m.auditor.Append(ctx, audit.Entry{
		ActorID:      audit.Actor(sess.AdminID),
		Action:       audit.ActionAdminLogout,
		ResourceType: audit.ResourceSession,
		ResourceID:   audit.Resource(shortKey(sess.Key)),
	})
	return nil
}

// ChangePassword rotates the password of the session's owner and revokes
// every other session of that account.
func (m *Manager) ChangePassword(ctx context.Context, sc SessionContext, current, next string) error {
	if err := m.creds.Rotate(ctx, sc.Admin.ID, current, next); err != nil {
		return err
	}
	now := m.now().UTC()
	revoked, err := m.sessions.RevokeAllForAdmin(ctx, sc.Admin.ID, sc.Session.Key, now)
	if err != nil {
		obs.Logger().Error("revoke sessions after password change", zap.Int64("admin_id", sc.Admin.ID), zap.Error(err))
	}
	m.auditor.Append(ctx, audit.Entry{
		ActorID:      audit.Actor(sc.Admin.ID),
		Action:       audit.ActionAdminPasswordChange,
		ResourceType: audit.ResourceAdmin,
		ResourceID:   audit.Resource(strconv.FormatInt(sc.Admin.ID, 10)),
		Detail:       map[string]any{"revoked_sessions": revoked},
	})
	return nil
}

// SetActive activates or deactivates an account. Deactivation also revokes
// its live sessions, although Resolve rejects them regardless.
func (m *Manager) SetActive(ctx context.Context, adminID int64, active bool, actor *int64) error {
	if err := m.accounts.SetActive(ctx, adminID, active); err != nil {
		return err
	}
	action := audit.ActionAdminActivated
	detail := map[string]any{}
	if !active {
		action = audit.ActionAdminDeactivated
		n, err := m.sessions.RevokeAllForAdmin(ctx, adminID, "", m.now().UTC())
		if err != nil {
			obs.Logger().Error("revoke sessions after deactivation", zap.Int64("admin_id", adminID), zap.Error(err))
		}
		detail["revoked_sessions"] = n
	}
	m.auditor.Append(ctx, audit.Entry{
		ActorID:      actor,
		Action:       action,
		ResourceType: audit.ResourceAdmin,
		ResourceID:   audit.Resource(strconv.FormatInt(adminID, 10)),
		Detail:       detail,
	})
	return nil
}

// Sweep purges expired sessions and revoked ones past retention.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now().UTC()
	return m.sessions.Sweep(ctx, now, now.Add(-m.revokedRetain))
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				obs.Logger().Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				obs.Logger().Info("session sweep", zap.Int("removed", n))
			}
		}
	}
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}
