package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-meli-connect/core"
)

const connectionCacheKeyPrefix = "meli-connect::connection::v1"

// CachedConnectionStore serves id-only lookups from a read-through cache and
// invalidates the entry on every write touching that id. All other queries go
// straight to the base store.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(base core.ConnectionStore, cacheService repositorycache.CacheService) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns meli-connect::connection::v1::<id> with the id
// URL-path escaped.
func ConnectionCacheKey(id string) string {
	return connectionCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(id))
}

func (s *CachedConnectionStore) Find(ctx context.Context, filter core.ConnectionFilter) (core.Connection, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	id := strings.TrimSpace(filter.ID)
	if id == "" || filter != (core.ConnectionFilter{ID: filter.ID}) {
		return s.base.Find(ctx, filter)
	}

	connection, err := repositorycache.GetOrFetch(ctx, s.cache, ConnectionCacheKey(id), func(ctx context.Context) (core.Connection, error) {
		found, ok, fetchErr := s.base.Find(ctx, core.ConnectionFilter{ID: id})
		if fetchErr != nil {
			return core.Connection{}, fetchErr
		}
		if !ok {
			return core.Connection{}, core.ErrConnectionNotFound
		}
		return found, nil
	})
	if err != nil {
		if errors.Is(err, core.ErrConnectionNotFound) {
			return core.Connection{}, false, nil
		}
		return core.Connection{}, false, err
	}
	return connection, true, nil
}

func (s *CachedConnectionStore) List(ctx context.Context, filter core.ConnectionFilter) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedConnectionStore) Upsert(ctx context.Context, key core.ConnectionKey, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	connection, err := s.base.Upsert(ctx, key, in)
	if err != nil {
		return core.Connection{}, err
	}
	return connection, s.invalidate(ctx, connection.ID)
}

func (s *CachedConnectionStore) Update(ctx context.Context, id string, mutate core.ConnectionMutation) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	connection, err := s.base.Update(ctx, id, mutate)
	if err != nil {
		return core.Connection{}, err
	}
	return connection, s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return s.cache.Delete(ctx, ConnectionCacheKey(id))
}
