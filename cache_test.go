package rbac

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCachedFixture(t *testing.T) (fixture, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	svc := newTestRBAC(t, func(c *Config) {
		c.RedisClient = client
		c.CacheTTL = 30 * time.Minute
	})
	return newFixture(t, svc), mr
}

func (f fixture) cacheKey(t *testing.T, accountID *uuid.UUID) string {
	t.Helper()
	key, err := f.svc.getCacheKey(context.Background(), f.user.ID, accountID)
	require.NoError(t, err)
	return key
}

func permKeys(mr *miniredis.Miniredis) []string {
	var keys []string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "rbac:perm:") {
			keys = append(keys, key)
		}
	}
	return keys
}

func TestCacheFillsOnCheck(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.assign(t, AssignRoleInput{AccountID: &f.acme.ID})
	ctx := context.Background()

	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"), InAccount(f.acme.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	key := f.cacheKey(t, &f.acme.ID)
	raw, err := mr.Get(key)
	require.NoError(t, err)
	assert.JSONEq(t, `["edit_content"]`, raw)
	assert.Equal(t, 30*time.Minute, mr.TTL(key))

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"), InAccount(f.other.ID))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists(f.cacheKey(t, &f.other.ID)))

	stats := f.svc.GetCacheStats(ctx)
	assert.Equal(t, 2, stats["cache_keys_count"])
}

func TestCacheTTLStopsAtValidityBoundary(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.assign(t, AssignRoleInput{ValidUntil: ptr(time.Now().Add(10 * time.Minute))})

	ok, err := f.svc.HasPermission(context.Background(), f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	require.True(t, ok)

	ttl := mr.TTL(f.cacheKey(t, nil))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestCacheWaitsForPendingGrant(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.assign(t, AssignRoleInput{ValidFrom: ptr(time.Now().Add(5 * time.Minute))})

	ok, err := f.svc.HasPermission(context.Background(), f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok)

	ttl := mr.TTL(f.cacheKey(t, nil))
	assert.LessOrEqual(t, ttl, 5*time.Minute)
}

func TestWritesInvalidateCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	ctx := context.Background()

	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok)
	key := f.cacheKey(t, nil)
	require.True(t, mr.Exists(key))

	ur := f.assign(t, AssignRoleInput{})
	assert.False(t, mr.Exists(key), "assignment drops the user's entries")
	assert.NotEqual(t, key, f.cacheKey(t, nil), "assignment bumps the user's generation")

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.True(t, ok)
	key = f.cacheKey(t, nil)
	require.True(t, mr.Exists(key))

	require.NoError(t, f.svc.SetRolePermissionActive(ctx, f.role.ID, f.perm.ID, false, nil))
	assert.False(t, mr.Exists(key), "role changes drop every entry")
	assert.NotEqual(t, key, f.cacheKey(t, nil), "role changes bump the global generation")

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.svc.RevokeRole(ctx, ur.ID, nil))
	assert.Empty(t, permKeys(mr))
}

func TestRevokeDuringFillIsNotCached(t *testing.T) {
	f, _ := newCachedFixture(t)
	ur := f.assign(t, AssignRoleInput{})
	ctx := context.Background()

	// Revoke the assignment right after the fill has read it.
	armed := true
	err := f.svc.db.Callback().Query().After("gorm:query").Register("test:revoke_during_fill", func(db *gorm.DB) {
		if !armed || db.Statement.Table != "user_roles" {
			return
		}
		armed = false
		require.NoError(t, f.svc.RevokeRole(ctx, ur.ID, nil))
	})
	require.NoError(t, err)

	ok, err := f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.True(t, ok, "the in-flight check saw the assignment")
	require.False(t, armed)

	ok, err = f.svc.Resolver().HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.HasPermission(ctx, f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.False(t, ok, "the fill raced with the revoke and must not answer later checks")
}

func TestByEntityWithoutIDIsDeniedWithCache(t *testing.T) {
	f, _ := newCachedFixture(t)
	f.assign(t, AssignRoleInput{})
	ctx := context.Background()

	ghost := Permission{Codename: "edit_content", IsActive: true}
	ok, err := f.svc.HasPermission(ctx, f.user, ByEntity(ghost))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.HasPermission(ctx, f.user, ByEntity(*f.perm))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPinnedChecksBypassCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.assign(t, AssignRoleInput{})

	ok, err := f.svc.HasPermission(context.Background(), f.user, ByCodename("edit_content"), At(time.Now()))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, permKeys(mr))
}

func TestCacheOutageFallsBackToStore(t *testing.T) {
	f, mr := newCachedFixture(t)
	f.assign(t, AssignRoleInput{})
	mr.Close()

	ok, err := f.svc.HasPermission(context.Background(), f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClearAllCache(t *testing.T) {
	f, mr := newCachedFixture(t)
	_, err := f.svc.HasPermission(context.Background(), f.user, ByCodename("edit_content"))
	require.NoError(t, err)
	require.NotEmpty(t, permKeys(mr))
	before := f.cacheKey(t, nil)

	require.NoError(t, f.svc.ClearAllCache(context.Background()))
	assert.Empty(t, permKeys(mr))
	assert.NotEqual(t, before, f.cacheKey(t, nil))
}
