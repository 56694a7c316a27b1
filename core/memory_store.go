package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConnectionStore is an in-process ConnectionStore keyed by id with a
// secondary index on (owner, site, app).
type MemoryConnectionStore struct {
	mu          sync.Mutex
	now         Clock
	connections map[string]Connection
	byKey       map[ConnectionKey]string
}

func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		now:         func() time.Time { return time.Now().UTC() },
		connections: map[string]Connection{},
		byKey:       map[ConnectionKey]string{},
	}
}

func (s *MemoryConnectionStore) Find(_ context.Context, filter ConnectionFilter) (Connection, bool, error) {
	if s == nil {
		return Connection{}, false, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := strings.TrimSpace(filter.ID); id != "" {
		connection, ok := s.connections[id]
		if !ok || !matchesFilter(connection, filter) {
			return Connection{}, false, nil
		}
		return connection, true, nil
	}
	matches := s.listLocked(filter)
	if len(matches) == 0 {
		return Connection{}, false, nil
	}
	return matches[0], true, nil
}

func (s *MemoryConnectionStore) List(_ context.Context, filter ConnectionFilter) ([]Connection, error) {
	if s == nil {
		return nil, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(filter), nil
}

func (s *MemoryConnectionStore) Upsert(_ context.Context, key ConnectionKey, in UpsertConnectionInput) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	connection := Connection{ID: uuid.NewString()}
	if id, ok := s.byKey[key]; ok {
		connection = s.connections[id]
	}
	if err := ApplyUpsert(&connection, key, in, s.now()); err != nil {
		return Connection{}, err
	}
	s.connections[connection.ID] = connection
	s.byKey[key] = connection.ID
	return connection, nil
}

func (s *MemoryConnectionStore) Update(_ context.Context, id string, mutate ConnectionMutation) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	connection, ok := s.connections[strings.TrimSpace(id)]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	if mutate != nil {
		if err := mutate(&connection); err != nil {
			return Connection{}, err
		}
	}
	connection.UpdatedAt = s.now()
	s.connections[connection.ID] = connection
	return connection, nil
}

func (s *MemoryConnectionStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("core: connection store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	connection, ok := s.connections[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	delete(s.connections, connection.ID)
	delete(s.byKey, connection.Key())
	return nil
}

func (s *MemoryConnectionStore) listLocked(filter ConnectionFilter) []Connection {
	out := make([]Connection, 0)
	for _, connection := range s.connections {
		if matchesFilter(connection, filter) {
			out = append(out, connection)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func matchesFilter(connection Connection, filter ConnectionFilter) bool {
	if filter.ID != "" && connection.ID != filter.ID {
		return false
	}
	if filter.OwnerID != "" && connection.OwnerID != filter.OwnerID {
		return false
	}
	if filter.StateToken != "" && connection.StateToken != filter.StateToken {
		return false
	}
	if filter.SiteID != "" && connection.SiteID != filter.SiteID {
		return false
	}
	if filter.AppID != "" && connection.AppID != filter.AppID {
		return false
	}
	if filter.MarketplaceUserID != 0 && connection.MarketplaceUserID != filter.MarketplaceUserID {
		return false
	}
	if filter.Status != "" && connection.Status != filter.Status {
		return false
	}
	if filter.ExpiresBefore != nil {
		if connection.TokenExpiresAt == nil || !connection.TokenExpiresAt.Before(*filter.ExpiresBefore) {
			return false
		}
	}
	return true
}
