package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/logging"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/retry"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

// Reader queries observed table schemas from a PostgreSQL database via
// information_schema. It serves schema validation against a Postgres
// target; the sync write path is SQLite.
type Reader struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ storage.SchemaReader = (*Reader)(nil)

// NewReader connects a pooled reader. The pool is sized for validation
// work, not for sustained load.
func NewReader(ctx context.Context, connString string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool after retries: %w", err)
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug("Connected to validation database",
		zap.String("target", logging.SanitizeConnectionString(connString)))
	return &Reader{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (r *Reader) Close() {
	r.pool.Close()
}

// Schemas reads the observed schema of each requested table from the public
// schema. Tables that do not exist are absent from the result.
func (r *Reader) Schemas(ctx context.Context, tables []string) (map[string]models.TableSchema, error) {
	schemas := make(map[string]models.TableSchema, len(tables))
	for _, table := range tables {
		exists, err := r.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		schema, err := r.tableSchema(ctx, table)
		if err != nil {
			return nil, err
		}
		schemas[table] = schema
	}
	return schemas, nil
}

func (r *Reader) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := r.pool.QueryRow(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public'",
		table).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return true, nil
}

func (r *Reader) tableSchema(ctx context.Context, table string) (models.TableSchema, error) {
	schema := models.TableSchema{EntityName: table}

	rows, err := r.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable, character_maximum_length
		FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = 'public'
		ORDER BY ordinal_position`, table)
	if err != nil {
		return schema, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, dataType, isNullable string
			maxLength                  *int
		)
		if err := rows.Scan(&name, &dataType, &isNullable, &maxLength); err != nil {
			return schema, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col := models.ColumnSpec{
			Name:        name,
			StorageType: dataType,
			Nullable:    isNullable == "YES",
		}
		if maxLength != nil {
			col.MaxLength = *maxLength
		}
		schema.Columns = append(schema.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return schema, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	pk, err := r.primaryKey(ctx, table)
	if err != nil {
		return schema, err
	}
	schema.PrimaryKey = pk

	fks, err := r.foreignKeys(ctx, table)
	if err != nil {
		return schema, err
	}
	schema.ForeignKeys = fks
	return schema, nil
}

func (r *Reader) primaryKey(ctx context.Context, table string) (string, error) {
	var pk string
	err := r.pool.QueryRow(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
		WHERE tc.table_name = $1
			AND tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = 'public'`, table).Scan(&pk)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query primary key of %s: %w", table, err)
	}
	return pk, nil
}

func (r *Reader) foreignKeys(ctx context.Context, table string) ([]models.ForeignKeySpec, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_name = $1
			AND tc.table_schema = 'public'`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []models.ForeignKeySpec
	for rows.Next() {
		var fk models.ForeignKeySpec
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
	}
	return fks, nil
}
