package facility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/platform/cache"
	"github.com/JavidSumra/care-be/internal/platform/metrics"
)

const (
	cacheKeyPrefix  = "care:accessible_facilities:"
	DefaultCacheTTL = 5 * time.Minute
)

// Resolver computes a user's accessible facility set, caching it in a KV
// store. Cache failures fall back to the repository; they never fail a
// request.
type Resolver struct {
	repo    Repository
	kv      cache.KV
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewResolver returns a resolver. A nil kv disables caching.
func NewResolver(repo Repository, kv cache.KV, ttl time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{repo: repo, kv: kv, ttl: ttl, metrics: m, logger: logger}
}

func cacheKey(userID int64) string {
	return cacheKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *Resolver) AccessibleFacilities(ctx context.Context, userID int64) ([]int64, error) {
	if r.kv == nil {
		return r.repo.AccessibleFacilityIDs(ctx, userID)
	}

	key := cacheKey(userID)
	raw, err := r.kv.Get(ctx, key)
	switch {
	case err == nil:
		var ids []int64
		if jerr := json.Unmarshal([]byte(raw), &ids); jerr == nil {
			r.metrics.FacilityCache("hit")
			return ids, nil
		}
		r.logger.Warn().Str("key", key).Msg("discarding malformed facility cache entry")
		r.metrics.FacilityCache("error")
	case errors.Is(err, cache.ErrMiss):
		r.metrics.FacilityCache("miss")
	default:
		r.logger.Warn().Err(err).Msg("facility cache read failed")
		r.metrics.FacilityCache("error")
	}

	ids, err := r.repo.AccessibleFacilityIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve accessible facilities: %w", err)
	}

	b, _ := json.Marshal(ids)
	if err := r.kv.Set(ctx, key, string(b), r.ttl); err != nil {
		r.logger.Warn().Err(err).Msg("facility cache write failed")
	}
	return ids, nil
}

// Invalidate drops the cached set for a user after a membership change.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) error {
	if r.kv == nil {
		return nil
	}
	return r.kv.Del(ctx, cacheKey(userID))
}
