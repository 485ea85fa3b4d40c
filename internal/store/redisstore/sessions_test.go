package redisstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"harborvisa.org/internal/auth"
	"harborvisa.org/internal/auth/authtest"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test:"), mr
}

func TestSessionStoreContract(t *testing.T) {
	authtest.RunSessionStore(t, func(t *testing.T) auth.SessionStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestInsertSetsTTLAndIndex(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(2 * time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.Insert(ctx, auth.Session{
		Key:       "k1",
		AdminID:   7,
		IssuedAt:  time.Now().Truncate(time.Millisecond),
		ExpiresAt: expires,
	}))

	ttl := mr.TTL("{test:sessions}:session:k1")
	require.Greater(t, ttl, time.Hour)
	require.LessOrEqual(t, ttl, 2*time.Hour)

	members, err := mr.ZMembers("{test:sessions}:admin:7")
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, members)
	score, err := mr.ZScore("{test:sessions}:admin:7", "k1")
	require.NoError(t, err)
	require.Equal(t, float64(expires.UnixMilli()), score)
}

func TestAdminIndexOutlivesLongestSession(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Insert(ctx, auth.Session{Key: "long", AdminID: 7, IssuedAt: now, ExpiresAt: now.Add(14 * 24 * time.Hour)}))
	require.NoError(t, s.Insert(ctx, auth.Session{Key: "short", AdminID: 7, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	ttl := mr.TTL("{test:sessions}:admin:7")
	require.Greater(t, ttl, 13*24*time.Hour)
	require.LessOrEqual(t, ttl, 14*24*time.Hour)
}

func TestInsertPrunesSessionsExpiredBeforeIssue(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	base := authtest.Base
	for i, key := range []string{"old1", "old2", "old3"} {
		issued := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Insert(ctx, auth.Session{Key: key, AdminID: 7, IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}))
	}
	before, err := mr.ZMembers("{test:sessions}:admin:7")
	require.NoError(t, err)
	require.Len(t, before, 3)

	later := base.Add(3 * time.Hour)
	require.NoError(t, s.Insert(ctx, auth.Session{Key: "fresh", AdminID: 7, IssuedAt: later, ExpiresAt: later.Add(time.Hour)}))

	members, err := mr.ZMembers("{test:sessions}:admin:7")
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, members)
}

func TestDeleteIfExpiredTouchesOnlyTheSession(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	base := authtest.Base
	require.NoError(t, s.Insert(ctx, auth.Session{Key: "k1", AdminID: 7, IssuedAt: base, ExpiresAt: base.Add(time.Hour)}))

	ok, err := s.DeleteIfExpired(ctx, "k1", base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mr.Exists("{test:sessions}:session:k1"))

	n, err := s.RevokeAllForAdmin(ctx, 7, "", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
	left, err := s.client.ZCard(ctx, "{test:sessions}:admin:7").Result()
	require.NoError(t, err)
	require.Zero(t, left)
}

func TestRevokeAllDropsDanglingMembers(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	base := authtest.Base
	require.NoError(t, s.Insert(ctx, auth.Session{Key: "k1", AdminID: 7, IssuedAt: base, ExpiresAt: base.Add(time.Hour)}))
	_, err := mr.ZAdd("{test:sessions}:admin:7", float64(base.Add(time.Hour).UnixMilli()), "ghost")
	require.NoError(t, err)

	n, err := s.RevokeAllForAdmin(ctx, 7, "", base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	members, err := mr.ZMembers("{test:sessions}:admin:7")
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, members)
}

func TestKeysShareOneHashSlot(t *testing.T) {
	s, _ := newTestStore(t)
	tag := func(key string) string {
		open := strings.IndexByte(key, '{')
		end := strings.IndexByte(key[open+1:], '}')
		require.True(t, open >= 0 && end > 0, "key %q has no hash tag", key)
		return key[open+1 : open+1+end]
	}
	require.Equal(t, "test:sessions", tag(s.sessionKey("k1")))
	require.Equal(t, tag(s.sessionKey("k1")), tag(s.adminKey(7)))
	require.Equal(t, "sessions", tag(NewWithClient(s.client, "").sessionKey("k1")))
}

func TestLookupRoundTripsFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := authtest.Base
	in := auth.Session{Key: "k1", AdminID: 7, IssuedAt: base, ExpiresAt: base.Add(14 * 24 * time.Hour), RememberMe: true, Origin: "192.0.2.44"}
	require.NoError(t, s.Insert(ctx, in))

	out, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, in.AdminID, out.AdminID)
	require.True(t, out.RememberMe)
	require.Equal(t, "192.0.2.44", out.Origin)
	require.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
}

func TestManagerOverRedis(t *testing.T) {
	s, _ := newTestStore(t)
	hasher, err := auth.NewHasher()
	require.NoError(t, err)
	digest, err := hasher.Hash(context.Background(), "redis-backed-pass")
	require.NoError(t, err)

	accounts := auth.NewMemoryAccounts()
	_, err = accounts.Add(auth.Admin{Email: "ops@example.com", Role: auth.RoleAdmin, PasswordHash: digest, Active: true})
	require.NoError(t, err)

	mgr, err := auth.NewManager(accounts, s, auth.WithHasher(hasher))
	require.NoError(t, err)
	ctx := context.Background()
	res, err := mgr.Login(ctx, "ops@example.com", "redis-backed-pass", false)
	require.NoError(t, err)

	_, err = mgr.Resolve(ctx, res.Token)
	require.NoError(t, err)
	require.NoError(t, mgr.Logout(ctx, res.Token))
	_, err = mgr.Resolve(ctx, res.Token)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}
