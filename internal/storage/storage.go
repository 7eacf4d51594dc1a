// Package storage selects and opens the persistence adapter backing the
// conversation engine. Two database backends are provided: SQLite (default,
// zero-config) and PostgreSQL; "memory" runs without a database.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/config"
	"github.com/stealth-studios/sdk-framework-basic/internal/storage/postgres"
	"github.com/stealth-studios/sdk-framework-basic/internal/storage/sqlite"
)

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DriverMemory is the in-memory driver name.
const DriverMemory = "memory"

// Handle bundles the opened store with its lifecycle hooks.
type Handle struct {
	Store chat.Store
	Close func() error
	Ping  func(ctx context.Context) error // nil for the memory driver
}

// Open creates the configured store. The handle's Close is a no-op for the
// memory driver.
func Open(cfg *config.Config, logger *slog.Logger) (*Handle, error) {
	switch cfg.StorageDriverName() {
	case DriverMemory:
		return &Handle{
			Store: chat.NewMemoryStore(),
			Close: func() error { return nil },
		}, nil

	case DriverSQLite:
		sqliteCfg := sqlite.Config{Path: cfg.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqliteCfg.Path = cfg.Storage.SQLite.Path
			}
			sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		db, err := sqlite.Open(sqliteCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return &Handle{
			Store: postgres.NewRepository(db.GormDB()),
			Close: db.Close,
			Ping:  db.Ping,
		}, nil

	case DriverPostgres:
		pg := cfg.Storage.Postgres
		db, err := postgres.Open(postgres.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return &Handle{
			Store: postgres.NewRepository(db.GormDB()),
			Close: db.Close,
			Ping:  db.Ping,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriverName())
	}
}
