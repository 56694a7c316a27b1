package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	meliMigrations "github.com/goliatone/go-meli-connect/migrations"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "meli-connect" }

// openDatabase opens the configured database and registers the embedded
// migrations for its dialect. Migrations are not applied here.
func openDatabase(ctx context.Context, s settings) (*persistence.Client, string, error) {
	dialectName, err := meliMigrations.DialectForDriver(s.DatabaseDriver)
	if err != nil {
		return nil, "", err
	}

	var dialect schema.Dialect
	driver := s.DatabaseDriver
	switch dialectName {
	case meliMigrations.DialectPostgres:
		driver = "postgres"
		dialect = pgdialect.New()
	default:
		driver = "sqlite3"
		dialect = sqlitedialect.New()
	}

	sqlDB, err := sql.Open(driver, s.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("open %s database: %w", driver, err)
	}
	if dialectName == meliMigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: s.DatabaseURL}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("persistence client: %w", err)
	}

	_, err = meliMigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, meliMigrations.WithValidationTargets(dialectName))
	if err != nil {
		_ = client.Close()
		return nil, "", fmt.Errorf("register migrations: %w", err)
	}
	return client, dialectName, nil
}
