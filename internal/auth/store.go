package auth

import (
	"context"
	"time"
)

// AccountStore is the persistence contract for administrator accounts.
type AccountStore interface {
	// FindByEmail matches email case-insensitively. Returns ErrNotFound.
	FindByEmail(ctx context.Context, email string) (Admin, error)
	// Find returns ErrNotFound for unknown ids.
	Find(ctx context.Context, id int64) (Admin, error)
	// UpdatePasswordHash swaps the digest only if the stored one still equals
	// expectedHash. Returns ErrConflict when it does not, ErrNotFound for unknown ids.
	UpdatePasswordHash(ctx context.Context, id int64, expectedHash, newHash string, rotatedAt time.Time) error
	// SetActive flips the active flag. Returns ErrNotFound for unknown ids.
	SetActive(ctx context.Context, id int64, active bool) error
}

// SessionStore is the session keyspace. Every mutation is a single atomic
// step with respect to concurrent callers on the same key.
type SessionStore interface {
	// Insert stores a new session. Returns ErrConflict if the key exists.
	Insert(ctx context.Context, s Session) error
	// Lookup returns ErrNotFound for unknown keys.
	Lookup(ctx context.Context, key string) (Session, error)
	// RevokeIfLive sets RevokedAt=at only when the session is unrevoked and
	// expires after at. The returned session is the revoked one.
	RevokeIfLive(ctx context.Context, key string, at time.Time) (Session, bool, error)
	// DeleteIfExpired removes the session only when it expired at or before now.
	DeleteIfExpired(ctx context.Context, key string, now time.Time) (bool, error)
	// RevokeAllForAdmin revokes every live session of adminID except exceptKey.
	RevokeAllForAdmin(ctx context.Context, adminID int64, exceptKey string, at time.Time) (int, error)
	// Sweep deletes expired sessions and sessions revoked before revokedBefore.
	Sweep(ctx context.Context, now, revokedBefore time.Time) (int, error)
}
