package auth

import (
	"context"
	"errors"
	"time"
)

// Credentials owns password rotation. It is the only path that overwrites a
// stored digest after provisioning.
type Credentials struct {
	accounts AccountStore
	hasher   *Hasher
	now      func() time.Time
}

// NewCredentials wires a Credentials. A nil clock uses time.Now.
func NewCredentials(accounts AccountStore, hasher *Hasher, now func() time.Time) *Credentials {
	if now == nil {
		now = time.Now
	}
	return &Credentials{accounts: accounts, hasher: hasher, now: now}
}

// Rotate replaces the password of accountID after re-verifying current.
func (c *Credentials) Rotate(ctx context.Context, accountID int64, current, next string) error {
	admin, err := c.accounts.Find(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := c.hasher.Verify(ctx, admin.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCurrentPasswordMismatch
	}
	digest, err := c.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	err = c.accounts.UpdatePasswordHash(ctx, accountID, admin.PasswordHash, digest, c.now().UTC())
	if errors.Is(err, ErrConflict) {
		// Another rotation won; the current password we checked is stale.
		return ErrCurrentPasswordMismatch
	}
	return err
}
