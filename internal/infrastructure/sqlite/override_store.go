package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/levelsync/internal/cachemanager"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/syncproto"
)

// DefaultCacheTTL is how long a loaded record is served from memory.
const DefaultCacheTTL = 5 * time.Minute

// OverrideStore is the syncproto.OverrideSource backed by the repository,
// with a read-through cache in front of lookups.
type OverrideStore struct {
	repo  *OverrideRepository
	cache *cachemanager.ReadThroughCache[string, syncproto.OverrideRecord, string]
	ttl   time.Duration
}

var _ syncproto.OverrideSource = (*OverrideStore)(nil)

// NewOverrideStore wraps repo. A non-positive ttl uses DefaultCacheTTL.
// When sliding is set every hit extends the cached entry.
func NewOverrideStore(repo *OverrideRepository, ttl time.Duration, sliding bool) *OverrideStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	mem := cachemanager.NewInMemoryCacheManager[string, syncproto.OverrideRecord]("overrides", ttl, cachemanager.DefaultCleanupInterval)
	load := func(ctx context.Context, uniqueID string) (syncproto.OverrideRecord, error) {
		stored, err := repo.Get(ctx, uniqueID)
		if err != nil {
			return syncproto.OverrideRecord{}, err
		}
		return stored.Record, nil
	}
	// Most content ids have no stored record; remember that too.
	missing := cachemanager.NewInMemoryCacheManager[string, error]("overrides-missing", ttl, cachemanager.DefaultCleanupInterval)
	cache := cachemanager.NewReadThroughCache(cachemanager.CacheManager[string, syncproto.OverrideRecord](mem), load, sliding).
		WithMissCache(missing, func(err error) bool { return errors.Is(err, ErrNotFound) })
	return &OverrideStore{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// LoadOverrides returns the record for uniqueID. A missing record is
// reported with found=false and no error.
func (s *OverrideStore) LoadOverrides(ctx context.Context, uniqueID string) (syncproto.OverrideRecord, bool, error) {
	rec, err := s.cache.Get(ctx, uniqueID, uniqueID, s.ttl)
	if errors.Is(err, ErrNotFound) {
		return syncproto.OverrideRecord{}, false, nil
	}
	if err != nil {
		return syncproto.OverrideRecord{}, false, err
	}
	return rec, true, nil
}

// Save persists rec and drops any cached copy.
func (s *OverrideStore) Save(ctx context.Context, sourceID string, rec syncproto.OverrideRecord) error {
	if err := s.repo.Save(ctx, sourceID, rec); err != nil {
		return err
	}
	log.Debug(log.CatStore, "override saved", "unique_id", rec.UniqueID, "fields", len(rec.Fields))
	return s.cache.Invalidate(ctx, rec.UniqueID)
}

// Delete removes the record and drops any cached copy.
func (s *OverrideStore) Delete(ctx context.Context, uniqueID string) error {
	if err := s.repo.Delete(ctx, uniqueID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, uniqueID)
}

// List returns every stored record.
func (s *OverrideStore) List(ctx context.Context) ([]StoredOverride, error) {
	return s.repo.List(ctx)
}
