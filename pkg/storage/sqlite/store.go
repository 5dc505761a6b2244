// Package sqlite implements the embedded store on mattn/go-sqlite3. Entity
// tables are created from Dataverse metadata at sync time; the fixed sync
// metadata tables are managed by embedded migrations.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/migrations"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

// Store is the embedded SQLite store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if necessary) the database at path and applies
// pending migrations for the sync metadata tables.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Serialize access through a single connection; SQLite locks the whole
	// file on write and the sync path is sequential anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// The migrate instance shares our handle; closing it would close the
	// store's connection, so it is left to be garbage collected.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Applied sync metadata migrations", zap.Uint("version", version))
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
