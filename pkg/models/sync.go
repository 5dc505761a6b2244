package models

// Sync states recorded in _sync_state and _sync_log.
const (
	SyncStatusInProgress = "in_progress"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

// SCD2Result reports what a single record upsert did. VersionCreated drives
// junction-table snapshotting: junction rows are re-cut only when the parent
// payload actually changed.
type SCD2Result struct {
	IsNewEntity      bool
	VersionCreated   bool
	ValidFrom        string
	BusinessKeyValue string
}

// SyncState is one row of _sync_state.
type SyncState struct {
	EntityName    string
	State         string
	LastSyncTime  string
	LastTimestamp string
	RecordsCount  int64
}

// EntityFailure records a per-entity sync failure without aborting the run.
type EntityFailure struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// SyncResult is the roll-up returned by a full sync run. Success is false
// when any entity failed, when schema validation produced errors, or when
// reference verification (if requested) found dangling foreign keys.
type SyncResult struct {
	Success          bool                `json:"success"`
	TotalAdded       int                 `json:"total_added"`
	TotalUpdated     int                 `json:"total_updated"`
	FailedEntities   []EntityFailure     `json:"failed_entities,omitempty"`
	ValidationErrors []string            `json:"validation_errors,omitempty"`
	ReferenceReport  *VerificationReport `json:"reference_report,omitempty"`
}
