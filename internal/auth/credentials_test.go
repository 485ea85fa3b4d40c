package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type racingAccounts struct {
	*MemoryAccounts
}

func (r racingAccounts) UpdatePasswordHash(ctx context.Context, id int64, _, newHash string, at time.Time) error {
	return r.MemoryAccounts.UpdatePasswordHash(ctx, id, "someone-else-won", newHash, at)
}

func TestRotateWrongCurrentLeavesDigestUnchanged(t *testing.T) {
	hasher, digest := testDigest(t)
	accounts := NewMemoryAccounts()
	admin, _ := accounts.Add(Admin{Email: "ops@example.com", PasswordHash: digest, Active: true})
	creds := NewCredentials(accounts, hasher, nil)
	ctx := context.Background()

	err := creds.Rotate(ctx, admin.ID, "wrong-current", "another-passphrase")
	if !errors.Is(err, ErrCurrentPasswordMismatch) {
		t.Fatalf("expected ErrCurrentPasswordMismatch, got %v", err)
	}
	stored, _ := accounts.Find(ctx, admin.ID)
	if stored.PasswordHash != digest || stored.PasswordRotatedAt != nil {
		t.Fatal("digest must be unchanged")
	}
	ok, err := hasher.Verify(ctx, stored.PasswordHash, testPassword)
	if err != nil || !ok {
		t.Fatalf("old password must still verify: %v %v", ok, err)
	}
}

func TestRotateRejectsWeakPassword(t *testing.T) {
	hasher, digest := testDigest(t)
	accounts := NewMemoryAccounts()
	admin, _ := accounts.Add(Admin{Email: "ops@example.com", PasswordHash: digest, Active: true})
	creds := NewCredentials(accounts, hasher, nil)

	err := creds.Rotate(context.Background(), admin.ID, testPassword, "short")
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	stored, _ := accounts.Find(context.Background(), admin.ID)
	if stored.PasswordHash != digest {
		t.Fatal("digest must be unchanged")
	}
}

func TestRotateLostRaceReportsMismatch(t *testing.T) {
	hasher, digest := testDigest(t)
	accounts := NewMemoryAccounts()
	admin, _ := accounts.Add(Admin{Email: "ops@example.com", PasswordHash: digest, Active: true})
	creds := NewCredentials(racingAccounts{accounts}, hasher, nil)

	err := creds.Rotate(context.Background(), admin.ID, testPassword, "another-passphrase")
	if !errors.Is(err, ErrCurrentPasswordMismatch) {
		t.Fatalf("expected ErrCurrentPasswordMismatch, got %v", err)
	}
}

func TestRotateUnknownAccount(t *testing.T) {
	hasher, _ := testDigest(t)
	creds := NewCredentials(NewMemoryAccounts(), hasher, nil)
	if err := creds.Rotate(context.Background(), 42, "x", "yyyyyyyyy"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
