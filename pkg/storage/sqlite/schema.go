package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/sqlguard"
)

// Schemas reads the observed schema of each requested table via PRAGMA.
// Tables that do not exist are absent from the result.
func (s *Store) Schemas(ctx context.Context, tables []string) (map[string]models.TableSchema, error) {
	schemas := make(map[string]models.TableSchema, len(tables))
	for _, table := range tables {
		exists, err := s.TableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		schema, err := s.tableSchema(ctx, table)
		if err != nil {
			return nil, err
		}
		schemas[table] = schema
	}
	return schemas, nil
}

func (s *Store) tableSchema(ctx context.Context, table string) (models.TableSchema, error) {
	schema := models.TableSchema{EntityName: table}

	if err := sqlguard.ValidateAll(table); err != nil {
		return schema, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", table))
	if err != nil {
		return schema, fmt.Errorf("failed to read table info of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return schema, fmt.Errorf("failed to scan table info of %s: %w", table, err)
		}
		schema.Columns = append(schema.Columns, models.ColumnSpec{
			Name:        name,
			StorageType: colType,
			Nullable:    notNull == 0,
		})
		if pk == 1 && schema.PrimaryKey == "" {
			schema.PrimaryKey = name
		}
	}
	if err := rows.Err(); err != nil {
		return schema, fmt.Errorf("failed to read table info of %s: %w", table, err)
	}

	fks, err := s.foreignKeys(ctx, table)
	if err != nil {
		return schema, err
	}
	schema.ForeignKeys = fks
	return schema, nil
}

func (s *Store) foreignKeys(ctx context.Context, table string) ([]models.ForeignKeySpec, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list('%s')", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []models.ForeignKeySpec
	for rows.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		fks = append(fks, models.ForeignKeySpec{
			Column:           from,
			ReferencedTable:  refTable,
			ReferencedColumn: to.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	return fks, nil
}
