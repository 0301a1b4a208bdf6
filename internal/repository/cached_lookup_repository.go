package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
)

const (
	lookupKeyPrefix     = "tcats:lookup:"
	lookupGenerationKey = lookupKeyPrefix + "gen"
	defaultLookupTTL    = 5 * time.Minute
)

// CacheClient is the subset of the Redis client the lookup cache uses
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// CachedLookupRepository caches the performance name and session lists in
// Redis. Entries are keyed by a generation counter, so bumping the counter
// invalidates every cached list at once. Redis failures fall through to the
// wrapped store.
type CachedLookupRepository struct {
	Store
	cache CacheClient
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedLookupRepository wraps store with a Redis lookup cache
func NewCachedLookupRepository(store Store, cache CacheClient, ttl time.Duration, log *logger.Logger) *CachedLookupRepository {
	if ttl <= 0 {
		ttl = defaultLookupTTL
	}
	if log == nil {
		log = logger.Get()
	}
	return &CachedLookupRepository{Store: store, cache: cache, ttl: ttl, log: log}
}

// ListPerformanceNames implements Reader
func (r *CachedLookupRepository) ListPerformanceNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.cached(ctx, "names", &names, func() (any, error) {
		return r.Store.ListPerformanceNames(ctx)
	})
	return names, err
}

// ListSessionsByName implements Reader
func (r *CachedLookupRepository) ListSessionsByName(ctx context.Context, name string) ([]*domain.PerformanceSession, error) {
	var sessions []*domain.PerformanceSession
	err := r.cached(ctx, "sessions:"+name, &sessions, func() (any, error) {
		return r.Store.ListSessionsByName(ctx, name)
	})
	return sessions, err
}

// InvalidateLookups drops every cached list
func (r *CachedLookupRepository) InvalidateLookups(ctx context.Context) {
	if err := r.cache.Incr(ctx, lookupGenerationKey).Err(); err != nil {
		r.log.Warn("failed to invalidate lookup cache", zap.Error(err))
	}
}

// cached fills dst from Redis, or from load on a miss
func (r *CachedLookupRepository) cached(ctx context.Context, name string, dst any, load func() (any, error)) error {
	key, ok := r.key(ctx, name)
	if ok {
		data, err := r.cache.Get(ctx, key).Bytes()
		if err == nil && json.Unmarshal(data, dst) == nil {
			return nil
		}
		if err != nil && err != redis.Nil {
			r.log.Warn("lookup cache read failed", zap.String("key", key), zap.Error(err))
			ok = false
		}
	}

	v, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode lookup: %w", err)
	}
	if ok {
		if err := r.cache.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.log.Warn("lookup cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return json.Unmarshal(data, dst)
}

func (r *CachedLookupRepository) key(ctx context.Context, name string) (string, bool) {
	gen, err := r.cache.Get(ctx, lookupGenerationKey).Int64()
	if err != nil && err != redis.Nil {
		r.log.Warn("lookup cache unavailable", zap.Error(err))
		return "", false
	}
	return lookupKeyPrefix + strconv.FormatInt(gen, 10) + ":" + name, true
}
