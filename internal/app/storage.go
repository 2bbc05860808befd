package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/aula/internal/config"
	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/progress"
	"github.com/felixgeelhaar/aula/internal/storage/postgres"
	"github.com/felixgeelhaar/aula/internal/storage/sqlite"
)

// CatalogStore is what the services and the catalog importer need from
// the catalog side of storage.
type CatalogStore interface {
	content.Store
	progress.Catalog
	CatalogWriter
}

// Storage is the selected backend behind the store interfaces.
type Storage struct {
	Driver   string
	Catalog  CatalogStore
	Progress progress.Store

	migrate func(ctx context.Context) error
	version func(ctx context.Context) (int, error)
	close   func() error
}

// OpenStorage connects to the configured driver.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Storage{
			Driver:   config.DriverSQLite,
			Catalog:  sqlite.NewCatalogStore(db),
			Progress: sqlite.NewProgressStore(db),
			migrate:  func(context.Context) error { return db.Migrate() },
			version:  func(context.Context) (int, error) { return db.Version() },
			close:    db.Close,
		}, nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Storage{
			Driver:   config.DriverPostgres,
			Catalog:  postgres.NewCatalogStore(db),
			Progress: postgres.NewProgressStore(db),
			migrate:  db.Migrate,
			version:  db.Version,
			close: func() error {
				db.Close()
				return nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Migrate applies pending schema migrations
func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", s.Driver, err)
	}
	return nil
}

// Version returns the applied schema version
func (s *Storage) Version(ctx context.Context) (int, error) {
	return s.version(ctx)
}

// Close releases the connection
func (s *Storage) Close() error {
	return s.close()
}
