package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// generationKeys returns the counters a user's entries are versioned by:
// the global one, bumped by catalogue and role writes, and the user's own.
func (r *RBAC) generationKeys(userID uuid.UUID) []string {
	return []string{
		r.cachePrefix + "gen:global",
		fmt.Sprintf("%sgen:user:%s", r.cachePrefix, userID),
	}
}

// getCacheKey builds the key of a user's effective codenames from the
// current generations. Bumping either generation orphans every key built
// before it, including keys still being filled.
func (r *RBAC) getCacheKey(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID) (string, error) {
	vals, err := r.redis.MGet(ctx, r.generationKeys(userID)...).Result()
	if err != nil {
		return "", err
	}
	gens := make([]string, len(vals))
	for i, v := range vals {
		gen, _ := v.(string)
		if gen == "" {
			gen = "0"
		}
		gens[i] = gen
	}

	scope := "global"
	if accountID != nil {
		scope = accountID.String()
	}
	return fmt.Sprintf("%sperm:%s:%s:%s.%s", r.cachePrefix, userID, scope, gens[0], gens[1]), nil
}

// cacheable reports whether a check may be answered from the cache. Checks
// pinned to an explicit instant always go to the store.
func (r *RBAC) cacheable(opts []CheckOption) bool {
	if r.redis == nil {
		return false
	}
	var p checkParams
	for _, opt := range opts {
		opt(&p)
	}
	return !p.pinned
}

// cachedCodenames returns the user's effective codenames, filling the cache
// on a miss. Entries never outlive the next validity-window boundary of the
// user's rows. Cache failures fall back to the store.
func (r *RBAC) cachedCodenames(ctx context.Context, user Principal, opts []CheckOption) (map[string]struct{}, error) {
	p := r.resolver.params(opts)
	key, err := r.getCacheKey(ctx, user.GetID(), p.account)
	if err != nil {
		r.log.Warn("permission cache generation read failed", zap.Error(err))
		perms, _, err := r.resolver.effectiveSet(ctx, user, p)
		if err != nil {
			return nil, err
		}
		return codenameSet(perms), nil
	}

	raw, err := r.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var codenames []string
		if err := json.Unmarshal(raw, &codenames); err == nil {
			set := make(map[string]struct{}, len(codenames))
			for _, c := range codenames {
				set[c] = struct{}{}
			}
			return set, nil
		}
		r.log.Warn("discarding unreadable cache entry", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		r.log.Warn("permission cache read failed", zap.String("key", key), zap.Error(err))
	}

	perms, bounds, err := r.resolver.effectiveSet(ctx, user, p)
	if err != nil {
		return nil, err
	}
	set := codenameSet(perms)
	codenames := make([]string, 0, len(perms))
	for _, perm := range perms {
		codenames = append(codenames, perm.Codename)
	}

	ttl := r.cacheTTL
	if next, ok := bounds.Next(); ok {
		if until := next.Sub(p.at); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return set, nil
	}
	payload, err := json.Marshal(codenames)
	if err != nil {
		return set, nil
	}
	if err := r.redis.Set(ctx, key, payload, ttl).Err(); err != nil {
		r.log.Warn("permission cache write failed", zap.String("key", key), zap.Error(err))
	}
	return set, nil
}

func codenameSet(perms map[uuid.UUID]Permission) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		set[perm.Codename] = struct{}{}
	}
	return set
}

// invalidateCache bumps the generation of one user, or the global one when
// userID is uuid.Nil, then drops the entries it orphaned.
func (r *RBAC) invalidateCache(ctx context.Context, userID uuid.UUID) {
	if r.redis == nil {
		return
	}
	gens := r.generationKeys(userID)
	gen, pattern := gens[0], r.cachePrefix+"perm:*"
	if userID != uuid.Nil {
		gen, pattern = gens[1], fmt.Sprintf("%sperm:%s:*", r.cachePrefix, userID)
	}
	if err := r.redis.Incr(ctx, gen).Err(); err != nil {
		r.log.Warn("permission cache generation bump failed", zap.String("key", gen), zap.Error(err))
	}
	if err := r.deleteMatching(ctx, pattern); err != nil {
		r.log.Warn("permission cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

func (r *RBAC) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.redis.Del(ctx, keys...).Err()
}

// ClearAllCache clears all cache entries. Generation counters are bumped,
// not deleted, so fills in flight cannot land on a live key.
func (r *RBAC) ClearAllCache(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	if err := r.redis.Incr(ctx, r.cachePrefix+"gen:global").Err(); err != nil {
		return err
	}
	return r.deleteMatching(ctx, r.cachePrefix+"perm:*")
}

// GetCacheStats returns cache statistics
func (r *RBAC) GetCacheStats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"cache_prefix":  r.cachePrefix,
		"cache_ttl":     r.cacheTTL.String(),
		"redis_enabled": r.redis != nil,
	}
	if r.redis == nil {
		return stats
	}
	count := 0
	iter := r.redis.Scan(ctx, 0, r.cachePrefix+"perm:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if iter.Err() == nil {
		stats["cache_keys_count"] = count
	}
	return stats
}
