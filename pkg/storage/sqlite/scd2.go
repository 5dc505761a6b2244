package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/sqlguard"
)

// versionRow is one record prepared for SCD2 insertion: projected columns in
// schema order followed by the engine columns, plus the values the upsert
// decision needs.
type versionRow struct {
	columns   []string
	values    []any
	keyValue  string
	validFrom string
	payload   string
	syncTime  string
}

// UpsertBatch applies SCD2 upserts for a page of API records. Per record it
// detects option sets, projects the schema columns present in the record
// (multi-select fields are kept out of the entity table), canonicalizes the
// payload for change detection, and maintains option-set lookup and junction
// tables. Records without a business key value are skipped.
func (s *Store) UpsertBatch(ctx context.Context, table, businessKey string, schema models.TableSchema, records []map[string]any) (int, int, error) {
	idents := append([]string{table, businessKey}, schema.ColumnNames()...)
	if err := sqlguard.ValidateAll(idents...); err != nil {
		return 0, 0, err
	}

	added, updated := 0, 0
	for _, record := range records {
		entityID := dataverse.RecordString(record, businessKey)
		if entityID == "" {
			continue
		}

		detected := dataverse.DetectOptionSets(record)

		row, err := buildVersionRow(businessKey, schema, record, detected, entityID)
		if err != nil {
			return added, updated, err
		}

		result, err := s.upsertSCD2(ctx, table, businessKey, row)
		if err != nil {
			return added, updated, err
		}
		if result.IsNewEntity {
			added++
		} else if result.VersionCreated {
			updated++
		}

		if len(detected) > 0 {
			if err := s.populateOptionSets(ctx, detected, table, entityID, businessKey, result); err != nil {
				return added, updated, err
			}
		}
	}

	return added, updated, nil
}

func buildVersionRow(businessKey string, schema models.TableSchema, record map[string]any, detected map[string]models.DetectedOptionSet, entityID string) (versionRow, error) {
	var cols []string
	var vals []any
	for _, col := range schema.Columns {
		value, ok := record[col.Name]
		if !ok {
			continue
		}
		if os, isOptionSet := detected[col.Name]; isOptionSet && os.IsMultiSelect {
			// Multi-select values live in the junction table only.
			continue
		}
		cols = append(cols, col.Name)
		vals = append(vals, driverValue(value))
	}

	payload, err := dataverse.CanonicalPayload(record)
	if err != nil {
		return versionRow{}, err
	}

	syncTime := time.Now().UTC().Format(time.RFC3339)
	validFrom := dataverse.RecordString(record, "modifiedon")
	if validFrom == "" {
		validFrom = syncTime
	}

	cols = append(cols, "json_response", "sync_time", "valid_from")
	vals = append(vals, payload, syncTime, validFrom)

	return versionRow{
		columns:   cols,
		values:    vals,
		keyValue:  entityID,
		validFrom: validFrom,
		payload:   payload,
		syncTime:  syncTime,
	}, nil
}

// upsertSCD2 applies the SCD2 state machine for one prepared row:
// no active version -> insert; unchanged payload -> touch sync_time;
// changed payload -> close the active version at row.validFrom and insert
// the new one open-ended.
func (s *Store) upsertSCD2(ctx context.Context, table, businessKey string, row versionRow) (models.SCD2Result, error) {
	result := models.SCD2Result{
		ValidFrom:        row.validFrom,
		BusinessKeyValue: row.keyValue,
	}

	query := fmt.Sprintf(
		"SELECT row_id, json_response FROM %s WHERE %s = ? AND valid_to IS NULL",
		table, businessKey)

	var rowID int64
	var activePayload string
	err := s.db.QueryRowContext(ctx, query, row.keyValue).Scan(&rowID, &activePayload)
	switch {
	case isNoRows(err):
		if err := s.insertVersion(ctx, table, row); err != nil {
			return result, err
		}
		result.IsNewEntity = true
		result.VersionCreated = true
		return result, nil
	case err != nil:
		return result, fmt.Errorf("failed to query active version in %s: %w", table, err)
	}

	if activePayload == row.payload {
		touch := fmt.Sprintf("UPDATE %s SET sync_time = ? WHERE row_id = ?", table)
		if _, err := s.db.ExecContext(ctx, touch, row.syncTime, rowID); err != nil {
			return result, fmt.Errorf("failed to update sync_time in %s: %w", table, err)
		}
		return result, nil
	}

	closeStmt := fmt.Sprintf("UPDATE %s SET valid_to = ? WHERE row_id = ?", table)
	if _, err := s.db.ExecContext(ctx, closeStmt, row.validFrom, rowID); err != nil {
		return result, fmt.Errorf("failed to close active version in %s: %w", table, err)
	}
	if err := s.insertVersion(ctx, table, row); err != nil {
		return result, err
	}
	result.VersionCreated = true
	return result, nil
}

// insertVersion inserts the row as the open-ended active version.
func (s *Store) insertVersion(ctx context.Context, table string, row versionRow) error {
	cols := append(append([]string{}, row.columns...), "valid_to")
	vals := append(append([]any{}, row.values...), nil)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ","), placeholders)

	if _, err := s.db.ExecContext(ctx, stmt, vals...); err != nil {
		return fmt.Errorf("failed to insert version into %s: %w", table, err)
	}
	return nil
}

// driverValue converts a decoded JSON value into one the SQLite driver
// stores with the intended affinity. json.Number becomes int64 or float64;
// nested structures are stored as JSON text.
func driverValue(v any) any {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case map[string]any, []any:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(data)
	default:
		return v
	}
}
