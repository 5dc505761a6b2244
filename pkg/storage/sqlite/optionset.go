package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/sqlguard"
	"github.com/vantera-data/dataverse-sync/pkg/storage"
)

func optionSetTableName(field string) string {
	return storage.OptionSetTablePrefix + field
}

func junctionTableName(entityTable, field string) string {
	return fmt.Sprintf("%s%s_%s", storage.JunctionTablePrefix, entityTable, field)
}

// populateOptionSets maintains lookup and junction tables for the option
// sets detected on one record. Labels are upserted every time; junction
// snapshots are taken only when the parent entity gained a new version, so
// junction history stays aligned with entity history.
func (s *Store) populateOptionSets(ctx context.Context, detected map[string]models.DetectedOptionSet, entityTable, entityID, entityPK string, result models.SCD2Result) error {
	fields := make([]string, 0, len(detected))
	for field := range detected {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		optionSet := detected[field]
		if err := s.ensureOptionSetTable(ctx, field); err != nil {
			return err
		}

		if optionSet.IsMultiSelect {
			if err := s.ensureJunctionTable(ctx, entityTable, field, entityPK); err != nil {
				return err
			}
		}

		codes := make([]int, 0, len(optionSet.Codes))
		for code := range optionSet.Codes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			if err := s.upsertOptionSetValue(ctx, field, code, optionSet.Codes[code]); err != nil {
				return err
			}
		}

		if optionSet.IsMultiSelect && result.VersionCreated {
			if err := s.snapshotJunction(ctx, junctionTableName(entityTable, field), entityID, codes, result.ValidFrom); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) ensureOptionSetTable(ctx context.Context, field string) error {
	if err := sqlguard.ValidateAll(field); err != nil {
		return err
	}
	table := optionSetTableName(field)

	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s (
  code INTEGER PRIMARY KEY,
  label TEXT NOT NULL,
  first_seen TEXT NOT NULL
)`, table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create option set table %s: %w", table, err)
	}

	s.logger.Info("Created option set lookup table", zap.String("table", table))
	return nil
}

func (s *Store) ensureJunctionTable(ctx context.Context, entityTable, field, entityPK string) error {
	if err := sqlguard.ValidateAll(entityTable, field, entityPK); err != nil {
		return err
	}
	table := junctionTableName(entityTable, field)

	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s (
  junction_id INTEGER PRIMARY KEY AUTOINCREMENT,
  entity_id TEXT NOT NULL,
  option_code INTEGER NOT NULL,
  valid_from TEXT NOT NULL,
  valid_to TEXT,
  FOREIGN KEY (entity_id) REFERENCES %s(%s),
  FOREIGN KEY (option_code) REFERENCES %s(code)
)`, table, entityTable, entityPK, optionSetTableName(field))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create junction table %s: %w", table, err)
	}

	if err := s.createIndex(ctx, table, "entity_id"); err != nil {
		return err
	}
	composite := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_entity_id_valid_to ON %s(entity_id, valid_to)", table, table)
	if _, err := s.db.ExecContext(ctx, composite); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", table, err)
	}
	if err := s.createIndex(ctx, table, "valid_to"); err != nil {
		return err
	}

	s.logger.Info("Created junction table", zap.String("table", table))
	return nil
}

// upsertOptionSetValue inserts a new code with first_seen = now, or updates
// the label of an existing code. first_seen is never overwritten.
func (s *Store) upsertOptionSetValue(ctx context.Context, field string, code int, label string) error {
	table := optionSetTableName(field)

	var existing string
	query := fmt.Sprintf("SELECT label FROM %s WHERE code = ?", table)
	err := s.db.QueryRowContext(ctx, query, code).Scan(&existing)
	switch {
	case isNoRows(err):
		firstSeen := time.Now().UTC().Format(time.RFC3339)
		insert := fmt.Sprintf("INSERT INTO %s (code, label, first_seen) VALUES (?, ?, ?)", table)
		if _, err := s.db.ExecContext(ctx, insert, code, label, firstSeen); err != nil {
			return fmt.Errorf("failed to insert option set value into %s: %w", table, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to query option set value in %s: %w", table, err)
	}

	if existing != label {
		update := fmt.Sprintf("UPDATE %s SET label = ? WHERE code = ?", table)
		if _, err := s.db.ExecContext(ctx, update, label, code); err != nil {
			return fmt.Errorf("failed to update option set label in %s: %w", table, err)
		}
	}
	return nil
}

// snapshotJunction closes the active junction rows for the entity and
// inserts the current code set as the new open-ended version. validFrom
// comes from the parent entity version so both histories line up.
func (s *Store) snapshotJunction(ctx context.Context, table, entityID string, codes []int, validFrom string) error {
	closeStmt := fmt.Sprintf("UPDATE %s SET valid_to = ? WHERE entity_id = ? AND valid_to IS NULL", table)
	if _, err := s.db.ExecContext(ctx, closeStmt, validFrom, entityID); err != nil {
		return fmt.Errorf("failed to close junction rows in %s: %w", table, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (entity_id, option_code, valid_from, valid_to) VALUES (?, ?, ?, NULL)", table)
	for _, code := range codes {
		if _, err := s.db.ExecContext(ctx, insert, entityID, code, validFrom); err != nil {
			return fmt.Errorf("failed to insert junction row into %s: %w", table, err)
		}
	}
	return nil
}
