package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"harborvisa.org/internal/auth"
)

// SessionStore implements auth.SessionStore. Each mutation is one statement,
// so Postgres row locking provides the compare-and-set semantics.
type SessionStore struct {
	db *sql.DB
}

var _ auth.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Insert(ctx context.Context, sess auth.Session) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (token_hash, admin_id, issued_at, expires_at, remember_me, origin)
		values ($1, $2, $3, $4, $5, nullif($6, ''))
	`, sess.Key, sess.AdminID, sess.IssuedAt, sess.ExpiresAt, sess.RememberMe, sess.Origin)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return auth.ErrConflict
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: admin %d", auth.ErrNotFound, sess.AdminID)
	default:
		return err
	}
}

func (s *SessionStore) Lookup(ctx context.Context, key string) (auth.Session, error) {
	if s.db == nil {
		return auth.Session{}, errNoDB
	}
	var (
		sess    auth.Session
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select admin_id, issued_at, expires_at, revoked_at, remember_me, coalesce(origin, '')
		from sessions
		where token_hash = $1
	`, key).Scan(&sess.AdminID, &sess.IssuedAt, &sess.ExpiresAt, &revoked, &sess.RememberMe, &sess.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, err
	}
	sess.Key = key
	sess.RevokedAt = timePtr(revoked)
	return sess, nil
}

func (s *SessionStore) RevokeIfLive(ctx context.Context, key string, at time.Time) (auth.Session, bool, error) {
	if s.db == nil {
		return auth.Session{}, false, errNoDB
	}
	sess := auth.Session{Key: key, RevokedAt: &at}
	err := s.db.QueryRowContext(ctx, `
		update sessions
		set revoked_at = $2
		where token_hash = $1 and revoked_at is null and expires_at > $2
		returning admin_id, issued_at, expires_at, remember_me, coalesce(origin, '')
	`, key, at).Scan(&sess.AdminID, &sess.IssuedAt, &sess.ExpiresAt, &sess.RememberMe, &sess.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, false, nil
	}
	if err != nil {
		return auth.Session{}, false, err
	}
	return sess, true, nil
}

func (s *SessionStore) DeleteIfExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where token_hash = $1 and expires_at <= $2`, key, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SessionStore) RevokeAllForAdmin(ctx context.Context, adminID int64, exceptKey string, at time.Time) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set revoked_at = $3
		where admin_id = $1 and token_hash <> $2 and revoked_at is null and expires_at > $3
	`, adminID, exceptKey, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SessionStore) Sweep(ctx context.Context, now, revokedBefore time.Time) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from sessions
		where expires_at <= $1 or (revoked_at is not null and revoked_at < $2)
	`, now, revokedBefore)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
