package sqlite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/sqlguard"
)

// TableExists reports whether a table with the given name exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == nil {
		return true, nil
	}
	if isNoRows(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check table %s: %w", table, err)
}

// CreateEntityTable creates the SCD2 entity table for a metadata schema,
// along with its indexes. The surrogate row_id comes first, metadata columns
// follow in schema order, and the engine columns close the definition.
// An existing table is left untouched.
func (s *Store) CreateEntityTable(ctx context.Context, table string, schema models.TableSchema) error {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("Table already exists, skipping", zap.String("table", table))
		return nil
	}

	idents := append([]string{table}, schema.ColumnNames()...)
	if err := sqlguard.ValidateAll(idents...); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	b.WriteString("  row_id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, col := range schema.Columns {
		fmt.Fprintf(&b, ",\n  %s %s", col.Name, col.StorageType)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(",\n  json_response TEXT NOT NULL")
	b.WriteString(",\n  sync_time TEXT NOT NULL")
	b.WriteString(",\n  valid_from TEXT")
	b.WriteString(",\n  valid_to TEXT")
	b.WriteString("\n)")

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	if schema.HasColumn("modifiedon") {
		if err := s.createIndex(ctx, table, "modifiedon"); err != nil {
			return err
		}
	}
	if schema.HasColumn("createdon") {
		if err := s.createIndex(ctx, table, "createdon"); err != nil {
			return err
		}
	}

	// Business-key indexes only when the declared key materialized as a
	// column; some entities declare a key that never does.
	if schema.PrimaryKey != "" && schema.HasColumn(schema.PrimaryKey) {
		if err := s.createIndex(ctx, table, schema.PrimaryKey); err != nil {
			return err
		}
		compound := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s_valid_to ON %s(%s, valid_to)",
			table, schema.PrimaryKey, table, schema.PrimaryKey)
		if _, err := s.db.ExecContext(ctx, compound); err != nil {
			return fmt.Errorf("failed to create index on %s(%s, valid_to): %w", table, schema.PrimaryKey, err)
		}
	}

	if err := s.createIndex(ctx, table, "valid_to"); err != nil {
		return err
	}

	s.logger.Info("Created entity table",
		zap.String("table", table),
		zap.Int("columns", len(schema.Columns)))
	return nil
}

// createIndex creates idx_<table>_<column> if it does not exist. Callers
// must have validated both identifiers.
func (s *Store) createIndex(ctx context.Context, table, column string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", table, column, table, column)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index on %s(%s): %w", table, column, err)
	}
	return nil
}
