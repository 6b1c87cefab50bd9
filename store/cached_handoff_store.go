package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/internal/cache"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/types"
)

// handoffCacheType labels cache hit/miss metrics for this store.
const handoffCacheType = "handoff"

// CachedHandoffStore wraps a HandoffStore with a cache-aside read path.
// Reads go to the cache first; on miss the backing store is consulted
// and the cache repopulated. All writes go to the backing store and
// invalidate or refresh the cached entry. Cache failures degrade
// silently to the backing store.
//
// List and count queries always bypass the cache: their results change
// with every transition and caching them would serve stale sets.
type CachedHandoffStore struct {
	backing HandoffStore
	cache   *cache.Manager
	metrics *metrics.Collector
	logger  *zap.Logger
	ttl     time.Duration
}

// NewCachedHandoffStore creates a cache-aside wrapper around backing.
// ttl <= 0 uses the cache manager's default TTL.
func NewCachedHandoffStore(backing HandoffStore, cacheMgr *cache.Manager, collector *metrics.Collector, logger *zap.Logger, ttl time.Duration) *CachedHandoffStore {
	return &CachedHandoffStore{
		backing: backing,
		cache:   cacheMgr,
		metrics: collector,
		logger:  logger.With(zap.String("component", "cached_handoff_store")),
		ttl:     ttl,
	}
}

func (s *CachedHandoffStore) cacheKey(queueID string) string {
	return "handoff:" + queueID
}

// Create writes through to the backing store and primes the cache
func (s *CachedHandoffStore) Create(ctx context.Context, req *types.HandoffRequest) error {
	if err := s.backing.Create(ctx, req); err != nil {
		return err
	}
	if err := s.cache.SetJSON(ctx, s.cacheKey(req.QueueID), req, s.ttl); err != nil {
		s.logger.Warn("cache prime failed", zap.String("queue_id", req.QueueID), zap.Error(err))
	}
	return nil
}

// Get reads cache-first, falling back to the backing store on miss
func (s *CachedHandoffStore) Get(ctx context.Context, queueID string) (*types.HandoffRequest, error) {
	var cached types.HandoffRequest
	err := s.cache.GetJSON(ctx, s.cacheKey(queueID), &cached)
	if err == nil {
		s.metrics.RecordCacheHit(handoffCacheType)
		return &cached, nil
	}
	if !cache.IsCacheMiss(err) {
		s.logger.Warn("cache read failed", zap.String("queue_id", queueID), zap.Error(err))
	}
	s.metrics.RecordCacheMiss(handoffCacheType)

	req, err := s.backing.Get(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, s.cacheKey(queueID), req, s.ttl); err != nil {
		s.logger.Warn("cache repopulate failed", zap.String("queue_id", queueID), zap.Error(err))
	}
	return req, nil
}

// UpdateStatus applies the transition on the backing store, then
// refreshes the cached entry with the winning record.
func (s *CachedHandoffStore) UpdateStatus(ctx context.Context, queueID string, update HandoffUpdate) (*types.HandoffRequest, error) {
	req, err := s.backing.UpdateStatus(ctx, queueID, update)
	if err != nil {
		return nil, err
	}
	if cerr := s.cache.SetJSON(ctx, s.cacheKey(queueID), req, s.ttl); cerr != nil {
		// Stale cache is worse than no cache after a write failure
		if derr := s.cache.Delete(ctx, s.cacheKey(queueID)); derr != nil {
			s.logger.Warn("cache invalidate failed", zap.String("queue_id", queueID), zap.Error(derr))
		}
	}
	return req, nil
}

// ListByStatus bypasses the cache
func (s *CachedHandoffStore) ListByStatus(ctx context.Context, status types.HandoffStatus, limit int) ([]*types.HandoffRequest, error) {
	return s.backing.ListByStatus(ctx, status, limit)
}

// ListByAdvisor bypasses the cache
func (s *CachedHandoffStore) ListByAdvisor(ctx context.Context, advisorID string, limit int) ([]*types.HandoffRequest, error) {
	return s.backing.ListByAdvisor(ctx, advisorID, limit)
}

// ListByUser bypasses the cache
func (s *CachedHandoffStore) ListByUser(ctx context.Context, userID string, limit int) ([]*types.HandoffRequest, error) {
	return s.backing.ListByUser(ctx, userID, limit)
}

// CountByStatus bypasses the cache
func (s *CachedHandoffStore) CountByStatus(ctx context.Context, status types.HandoffStatus) (int64, error) {
	return s.backing.CountByStatus(ctx, status)
}

// Delete removes the record and its cached entry
func (s *CachedHandoffStore) Delete(ctx context.Context, queueID string) error {
	if err := s.backing.Delete(ctx, queueID); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, s.cacheKey(queueID)); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("queue_id", queueID), zap.Error(err))
	}
	return nil
}

// Ping checks the backing store; cache health is advisory only
func (s *CachedHandoffStore) Ping(ctx context.Context) error {
	return s.backing.Ping(ctx)
}

// Close closes the backing store. The cache manager is shared and
// closed by its owner.
func (s *CachedHandoffStore) Close() error {
	return s.backing.Close()
}

// Ensure CachedHandoffStore implements HandoffStore
var _ HandoffStore = (*CachedHandoffStore)(nil)
