package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-meli-connect/core"
)

const upsertAttempts = 2

type ConnectionStoreOption func(*ConnectionStore)

// WithStoreClock overrides the clock used for created_at/updated_at stamps.
func WithStoreClock(clock core.Clock) ConnectionStoreOption {
	return func(s *ConnectionStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
	now  core.Clock
}

func NewConnectionStore(db *bun.DB, opts ...ConnectionStoreOption) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	store := &ConnectionStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *ConnectionStore) Find(ctx context.Context, filter core.ConnectionFilter) (core.Connection, bool, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if !validFilterID(filter.ID) {
		return core.Connection{}, false, nil
	}
	record := &connectionRecord{}
	query := applyConnectionFilter(s.db.NewSelect().Model(record), filter)
	err := query.
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Connection{}, false, nil
		}
		return core.Connection{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *ConnectionStore) List(ctx context.Context, filter core.ConnectionFilter) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if !validFilterID(filter.ID) {
		return []core.Connection{}, nil
	}

	criteria := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return applyConnectionFilter(q, filter)
		}),
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
	}
	if filter.Limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(filter.Limit, 0))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Upsert writes the (owner, site, app) tuple as a single transaction. A
// concurrent insert of the same tuple loses on the unique key and is retried
// once as an update, so both callers converge on one row.
func (s *ConnectionStore) Upsert(ctx context.Context, key core.ConnectionKey, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	key = core.ConnectionKey{
		OwnerID: strings.TrimSpace(key.OwnerID),
		SiteID:  core.SiteID(strings.TrimSpace(string(key.SiteID))),
		AppID:   strings.TrimSpace(key.AppID),
	}
	if key.OwnerID == "" || key.SiteID == "" || key.AppID == "" {
		return core.Connection{}, fmt.Errorf("%w: owner, site and app are required", core.ErrValidation)
	}

	var lastErr error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		out, inserted, err := s.upsertOnce(ctx, key, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !inserted {
			break
		}
	}
	return core.Connection{}, lastErr
}

func (s *ConnectionStore) upsertOnce(ctx context.Context, key core.ConnectionKey, in core.UpsertConnectionInput) (core.Connection, bool, error) {
	now := s.now().UTC()
	var (
		out      core.Connection
		inserted bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectionByKeyTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			inserted = true
			connection := core.Connection{ID: uuid.NewString()}
			if err := core.ApplyUpsert(&connection, key, in, now); err != nil {
				return err
			}
			connection.CreatedAt = now
			connection.UpdatedAt = now
			created, createErr := s.repo.CreateTx(ctx, tx, newConnectionRecord(connection))
			if createErr != nil {
				return createErr
			}
			out = created.toDomain()
			return nil
		}

		connection := record.toDomain()
		if err := core.ApplyUpsert(&connection, key, in, now); err != nil {
			return err
		}
		connection.UpdatedAt = now
		next := newConnectionRecord(connection)
		if _, err := tx.NewUpdate().
			Model(next).
			Where("id = ?", record.ID).
			Exec(ctx); err != nil {
			return err
		}
		out = next.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, inserted, err
	}
	return out, inserted, nil
}

// Update loads the row, applies the mutation and writes it back inside one
// transaction. Postgres holds a row lock for the duration; SQLite serializes
// writers at the database level.
func (s *ConnectionStore) Update(ctx context.Context, id string, mutate core.ConnectionMutation) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" || !validFilterID(id) {
		return core.Connection{}, fmt.Errorf("%w: %s", core.ErrConnectionNotFound, id)
	}

	var out core.Connection
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &connectionRecord{}
		query := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id)
		if tx.Dialect().Name() == dialect.PG {
			query = query.For("UPDATE")
		}
		if err := query.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", core.ErrConnectionNotFound, id)
			}
			return err
		}

		connection := record.toDomain()
		if mutate != nil {
			if err := mutate(&connection); err != nil {
				return err
			}
		}
		connection.ID = record.ID
		connection.CreatedAt = record.CreatedAt
		connection.UpdatedAt = s.now().UTC()

		next := newConnectionRecord(connection)
		if _, err := tx.NewUpdate().
			Model(next).
			Where("id = ?", record.ID).
			Exec(ctx); err != nil {
			return err
		}
		out = next.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return out, nil
}

func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" || !validFilterID(id) {
		return fmt.Errorf("%w: %s", core.ErrConnectionNotFound, id)
	}
	result, err := s.db.NewDelete().
		Model((*connectionRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := result.RowsAffected(); rowsErr == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrConnectionNotFound, id)
	}
	return nil
}

func findConnectionByKeyTx(ctx context.Context, tx bun.Tx, key core.ConnectionKey) (*connectionRecord, error) {
	record := &connectionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.owner_id = ?", key.OwnerID).
		Where("?TableAlias.site_id = ?", string(key.SiteID)).
		Where("?TableAlias.app_id = ?", key.AppID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func applyConnectionFilter(q *bun.SelectQuery, filter core.ConnectionFilter) *bun.SelectQuery {
	if id := strings.TrimSpace(filter.ID); id != "" {
		q = q.Where("?TableAlias.id = ?", id)
	}
	if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
		q = q.Where("?TableAlias.owner_id = ?", owner)
	}
	if state := strings.TrimSpace(filter.StateToken); state != "" {
		q = q.Where("?TableAlias.state_token = ?", state)
	}
	if site := strings.TrimSpace(string(filter.SiteID)); site != "" {
		q = q.Where("?TableAlias.site_id = ?", site)
	}
	if app := strings.TrimSpace(filter.AppID); app != "" {
		q = q.Where("?TableAlias.app_id = ?", app)
	}
	if filter.MarketplaceUserID != 0 {
		q = q.Where("?TableAlias.marketplace_user_id = ?", filter.MarketplaceUserID)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", string(filter.Status))
	}
	if filter.ExpiresBefore != nil {
		q = q.Where("?TableAlias.token_expires_at IS NOT NULL").
			Where("?TableAlias.token_expires_at < ?", filter.ExpiresBefore.UTC())
	}
	return q
}

// validFilterID rejects ids that can never match a uuid primary key, which
// Postgres would otherwise report as a type error.
func validFilterID(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || parseUUID(id) != uuid.Nil
}
