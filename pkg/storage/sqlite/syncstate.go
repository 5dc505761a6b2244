package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// setState upserts the per-entity state row. INSERT OR IGNORE followed by
// UPDATE so an existing row keeps its last_timestamp and records_count.
func (s *Store) setState(ctx context.Context, entity, state string) error {
	now := nowUTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO _sync_state (entity_name, state, last_sync_time) VALUES (?, ?, ?)",
		entity, state, now)
	if err != nil {
		return fmt.Errorf("failed to insert sync state for %s: %w", entity, err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE _sync_state SET state = ?, last_sync_time = ? WHERE entity_name = ?",
		state, now, entity)
	if err != nil {
		return fmt.Errorf("failed to update sync state for %s: %w", entity, err)
	}
	return nil
}

// SyncState returns the tracked state for an entity, or nil when the entity
// has never been synced.
func (s *Store) SyncState(ctx context.Context, entity string) (*models.SyncState, error) {
	var (
		state        models.SyncState
		lastSyncTime sql.NullString
		lastTS       sql.NullString
		count        sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT entity_name, state, last_sync_time, last_timestamp, records_count FROM _sync_state WHERE entity_name = ?",
		entity).Scan(&state.EntityName, &state.State, &lastSyncTime, &lastTS, &count)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state for %s: %w", entity, err)
	}
	state.LastSyncTime = lastSyncTime.String
	state.LastTimestamp = lastTS.String
	state.RecordsCount = count.Int64
	return &state, nil
}

// LastSyncTimestamp returns the incremental watermark for an entity, or ""
// when no completed sync recorded one.
func (s *Store) LastSyncTimestamp(ctx context.Context, entity string) (string, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT last_timestamp FROM _sync_state WHERE entity_name = ?",
		entity).Scan(&ts)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query last sync timestamp for %s: %w", entity, err)
	}
	return ts.String, nil
}

// SetSyncWatermark records the high-water modifiedon timestamp and record
// count after a successful sync.
func (s *Store) SetSyncWatermark(ctx context.Context, entity, timestamp string, count int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO _sync_state (entity_name, state, last_sync_time, last_timestamp, records_count) VALUES (?, 'completed', ?, ?, ?)",
		entity, nowUTC(), timestamp, count)
	if err != nil {
		return fmt.Errorf("failed to set sync watermark for %s: %w", entity, err)
	}
	return nil
}

// StartSyncLog marks the entity in_progress and opens a _sync_log row,
// returning its id for the matching Complete or Fail call.
func (s *Store) StartSyncLog(ctx context.Context, entity string) (int64, error) {
	if err := s.setState(ctx, entity, models.SyncStatusInProgress); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO _sync_log (entity_name, start_time, status) VALUES (?, ?, 'in_progress')",
		entity, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert sync log for %s: %w", entity, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync log id for %s: %w", entity, err)
	}
	return id, nil
}

// CompleteSyncLog closes the log row with counts and marks the entity completed.
func (s *Store) CompleteSyncLog(ctx context.Context, logID int64, entity string, added, updated int) error {
	if err := s.setState(ctx, entity, models.SyncStatusCompleted); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE _sync_log SET end_time = ?, records_added = ?, records_updated = ?, status = 'completed' WHERE id = ?",
		nowUTC(), added, updated, logID)
	if err != nil {
		return fmt.Errorf("failed to complete sync log for %s: %w", entity, err)
	}
	return nil
}

// FailSyncLog closes the log row with the error and marks the entity failed.
func (s *Store) FailSyncLog(ctx context.Context, logID int64, entity, errMsg string) error {
	if err := s.setState(ctx, entity, models.SyncStatusFailed); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE _sync_log SET end_time = ?, status = 'failed', error_message = ? WHERE id = ?",
		nowUTC(), errMsg, logID)
	if err != nil {
		return fmt.Errorf("failed to record sync failure for %s: %w", entity, err)
	}
	return nil
}
