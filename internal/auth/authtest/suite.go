// Package authtest holds a conformance suite for auth.SessionStore implementations.
package authtest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"harborvisa.org/internal/auth"
)

// Base is a millisecond-aligned instant so stores with coarse timestamps round-trip.
var Base = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func newSession(key string, adminID int64, ttl time.Duration) auth.Session {
	return auth.Session{
		Key:        key,
		AdminID:    adminID,
		IssuedAt:   Base,
		ExpiresAt:  Base.Add(ttl),
		RememberMe: ttl > 8*time.Hour,
		Origin:     "192.0.2.10",
	}
}

// RunSessionStore exercises the atomic contract every keyspace must honour.
// newStore must return an empty store for each call.
func RunSessionStore(t *testing.T, newStore func(t *testing.T) auth.SessionStore) {
	t.Run("InsertLookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := newSession("k1", 7, time.Hour)
		require.NoError(t, s.Insert(ctx, want))

		got, err := s.Lookup(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, want.AdminID, got.AdminID)
		require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
		require.True(t, want.IssuedAt.Equal(got.IssuedAt))
		require.Equal(t, want.Origin, got.Origin)
		require.Nil(t, got.RevokedAt)

		require.ErrorIs(t, s.Insert(ctx, want), auth.ErrConflict)
		_, err = s.Lookup(ctx, "missing")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("RevokeIfLive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, newSession("k1", 7, time.Hour)))

		at := Base.Add(time.Minute)
		sess, ok, err := s.RevokeIfLive(ctx, "k1", at)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(7), sess.AdminID)

		_, ok, err = s.RevokeIfLive(ctx, "k1", at.Add(time.Second))
		require.NoError(t, err)
		require.False(t, ok, "second revoke must not transition")

		got, err := s.Lookup(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		require.True(t, got.RevokedAt.Equal(at))

		_, ok, err = s.RevokeIfLive(ctx, "missing", at)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("RevokeIgnoresExpired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, newSession("k1", 7, time.Hour)))
		_, ok, err := s.RevokeIfLive(ctx, "k1", Base.Add(2*time.Hour))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("DeleteIfExpired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, newSession("k1", 7, time.Hour)))

		ok, err := s.DeleteIfExpired(ctx, "k1", Base.Add(30*time.Minute))
		require.NoError(t, err)
		require.False(t, ok, "live session must survive")

		ok, err = s.DeleteIfExpired(ctx, "k1", Base.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		_, err = s.Lookup(ctx, "k1")
		require.ErrorIs(t, err, auth.ErrNotFound)

		ok, err = s.DeleteIfExpired(ctx, "k1", Base.Add(time.Hour))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("RevokeAllForAdmin", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, newSession("a1", 7, time.Hour)))
		require.NoError(t, s.Insert(ctx, newSession("a2", 7, time.Hour)))
		require.NoError(t, s.Insert(ctx, newSession("a3", 7, time.Hour)))
		require.NoError(t, s.Insert(ctx, newSession("b1", 8, time.Hour)))

		n, err := s.RevokeAllForAdmin(ctx, 7, "a1", Base.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, 2, n)

		keep, err := s.Lookup(ctx, "a1")
		require.NoError(t, err)
		require.Nil(t, keep.RevokedAt)
		other, err := s.Lookup(ctx, "b1")
		require.NoError(t, err)
		require.Nil(t, other.RevokedAt)
		gone, err := s.Lookup(ctx, "a2")
		require.NoError(t, err)
		require.NotNil(t, gone.RevokedAt)
	})

	t.Run("ConcurrentRevokeTransitionsOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, newSession("k1", 7, time.Hour)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.RevokeIfLive(ctx, "k1", Base.Add(time.Minute))
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})
}
