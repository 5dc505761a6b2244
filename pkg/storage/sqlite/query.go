package sqlite

import (
	"context"
	"fmt"

	"github.com/vantera-data/dataverse-sync/pkg/sqlguard"
)

// DistinctValues returns the distinct non-null values of a column as
// strings. A missing table yields an empty set, so reference extraction can
// run before the referring entity was ever synced.
func (s *Store) DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error) {
	if err := sqlguard.ValidateAll(table, column); err != nil {
		return nil, err
	}

	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	values := make(map[string]struct{})
	if !exists {
		return values, nil
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", column, table, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values of %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan distinct value of %s.%s: %w", table, column, err)
		}
		values[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read distinct values of %s.%s: %w", table, column, err)
	}
	return values, nil
}

// RecordExists reports whether any row has the given key value.
func (s *Store) RecordExists(ctx context.Context, table, keyColumn, value string) (bool, error) {
	if err := sqlguard.ValidateAll(table, keyColumn); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1", table, keyColumn)
	var one int
	err := s.db.QueryRowContext(ctx, query, value).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe %s.%s: %w", table, keyColumn, err)
	}
	return true, nil
}

// DanglingReferences counts FK values in table.fkColumn with no matching row
// in refTable.refColumn. It returns the number of dangling rows, up to ten
// sample values, and the total count of rows with a non-null FK.
func (s *Store) DanglingReferences(ctx context.Context, table, fkColumn, refTable, refColumn string) (int64, []string, int64, error) {
	if err := sqlguard.ValidateAll(table, fkColumn, refTable, refColumn); err != nil {
		return 0, nil, 0, err
	}

	query := fmt.Sprintf(`SELECT t.%s, COUNT(*) FROM %s t
LEFT JOIN %s r ON t.%s = r.%s
WHERE t.%s IS NOT NULL AND r.%s IS NULL
GROUP BY t.%s`,
		fkColumn, table, refTable, fkColumn, refColumn, fkColumn, refColumn, fkColumn)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("failed to query dangling references %s.%s -> %s.%s: %w", table, fkColumn, refTable, refColumn, err)
	}
	defer rows.Close()

	var dangling int64
	var samples []string
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return 0, nil, 0, fmt.Errorf("failed to scan dangling reference row: %w", err)
		}
		dangling += count
		if len(samples) < 10 {
			samples = append(samples, value)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, 0, fmt.Errorf("failed to read dangling references: %w", err)
	}

	total, err := s.countNonNull(ctx, table, fkColumn)
	if err != nil {
		return 0, nil, 0, err
	}
	return dangling, samples, total, nil
}

func (s *Store) countNonNull(ctx context.Context, table, column string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL", table, column)
	var total int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count non-null %s.%s: %w", table, column, err)
	}
	return total, nil
}

// OptionSetTables lists the option-set lookup tables, sorted by name.
func (s *Store) OptionSetTables(ctx context.Context) ([]string, error) {
	return s.listTables(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name LIKE '_optionset_%' ORDER BY name")
}

// EntityTables lists the synced entity tables: everything that is not a
// metadata table (leading underscore), a SQLite internal, or the migration
// bookkeeping table.
func (s *Store) EntityTables(ctx context.Context) ([]string, error) {
	return s.listTables(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND substr(name, 1, 1) != '_' AND name NOT LIKE 'sqlite_%' AND name != 'schema_migrations' ORDER BY name")
}

func (s *Store) listTables(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table names: %w", err)
	}
	return names, nil
}

// ColumnTypes returns the declared type of each column in a table.
func (s *Store) ColumnTypes(ctx context.Context, table string) (map[string]string, error) {
	if err := sqlguard.ValidateAll(table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read column types of %s: %w", table, err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info of %s: %w", table, err)
		}
		types[name] = colType
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read column info of %s: %w", table, err)
	}
	return types, nil
}
