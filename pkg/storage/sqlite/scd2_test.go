package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertBatchInsertsNewEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)

	records := []map[string]any{
		decodeRecord(t, `{"accountid":"a-1","name":"Acme","revenue":1500000.50,"modifiedon":"2024-01-01T10:00:00Z"}`),
	}
	added, updated, err := store.UpsertBatch(ctx, "accounts", "accountid", accountSchema(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, updated)

	var name, validFrom string
	var validTo sql.NullString
	var revenue float64
	err = store.db.QueryRow(
		"SELECT name, revenue, valid_from, valid_to FROM accounts WHERE accountid = 'a-1'").
		Scan(&name, &revenue, &validFrom, &validTo)
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)
	assert.Equal(t, 1500000.50, revenue)
	assert.Equal(t, "2024-01-01T10:00:00Z", validFrom, "valid_from should come from modifiedon")
	assert.False(t, validTo.Valid, "new version must be open-ended")
}

func TestUpsertBatchVersionsChangedRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)
	schema := accountSchema()

	_, _, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{
		decodeRecord(t, `{"accountid":"a-1","name":"Acme","modifiedon":"2024-01-01T10:00:00Z"}`),
	})
	require.NoError(t, err)

	added, updated, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{
		decodeRecord(t, `{"accountid":"a-1","name":"Acme Corp","modifiedon":"2024-02-01T10:00:00Z"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, updated)

	assert.Equal(t, 2, queryInt(t, store, "SELECT COUNT(*) FROM accounts WHERE accountid = 'a-1'"))
	assert.Equal(t, 1, queryInt(t, store, "SELECT COUNT(*) FROM accounts WHERE accountid = 'a-1' AND valid_to IS NULL"))

	var activeName string
	require.NoError(t, store.db.QueryRow(
		"SELECT name FROM accounts WHERE accountid = 'a-1' AND valid_to IS NULL").Scan(&activeName))
	assert.Equal(t, "Acme Corp", activeName)
}

// Version intervals must be contiguous: each closed version's valid_to
// equals the next version's valid_from.
func TestUpsertBatchVersionContiguity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)
	schema := accountSchema()

	updates := []string{
		`{"accountid":"a-1","name":"v1","modifiedon":"2024-01-01T00:00:00Z"}`,
		`{"accountid":"a-1","name":"v2","modifiedon":"2024-02-01T00:00:00Z"}`,
		`{"accountid":"a-1","name":"v3","modifiedon":"2024-03-01T00:00:00Z"}`,
	}
	for _, raw := range updates {
		_, _, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{decodeRecord(t, raw)})
		require.NoError(t, err)
	}

	rows, err := store.db.Query(
		"SELECT valid_from, valid_to FROM accounts WHERE accountid = 'a-1' ORDER BY row_id")
	require.NoError(t, err)
	defer rows.Close()

	type interval struct {
		from string
		to   sql.NullString
	}
	var intervals []interval
	for rows.Next() {
		var iv interval
		require.NoError(t, rows.Scan(&iv.from, &iv.to))
		intervals = append(intervals, iv)
	}
	require.NoError(t, rows.Err())
	require.Len(t, intervals, 3)

	for i := 0; i < len(intervals)-1; i++ {
		require.True(t, intervals[i].to.Valid, "version %d should be closed", i)
		assert.Equal(t, intervals[i+1].from, intervals[i].to.String,
			"version %d valid_to must equal version %d valid_from", i, i+1)
	}
	assert.False(t, intervals[len(intervals)-1].to.Valid, "last version must be open")
}

// Re-syncing an unchanged record must not create a version, only refresh
// sync_time.
func TestUpsertBatchNoOpOnUnchangedRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)
	schema := accountSchema()
	record := `{"accountid":"a-1","name":"Acme","revenue":99.5,"modifiedon":"2024-01-01T00:00:00Z"}`

	_, _, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{decodeRecord(t, record)})
	require.NoError(t, err)

	added, updated, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{decodeRecord(t, record)})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 1, queryInt(t, store, "SELECT COUNT(*) FROM accounts WHERE accountid = 'a-1'"))
}

// OData control metadata must not affect change detection: a record whose
// only difference is an @odata.* annotation is unchanged.
func TestUpsertBatchIgnoresODataAnnotations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)
	schema := accountSchema()

	_, _, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{
		decodeRecord(t, `{"@odata.etag":"W/\"100\"","accountid":"a-1","name":"Acme","modifiedon":"2024-01-01T00:00:00Z"}`),
	})
	require.NoError(t, err)

	added, updated, err := store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{
		decodeRecord(t, `{"@odata.etag":"W/\"205\"","accountid":"a-1","name":"Acme","modifiedon":"2024-01-01T00:00:00Z"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 1, queryInt(t, store, "SELECT COUNT(*) FROM accounts WHERE accountid = 'a-1'"))
}

func TestUpsertBatchSkipsRecordsWithoutBusinessKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)

	added, updated, err := store.UpsertBatch(ctx, "accounts", "accountid", accountSchema(), []map[string]any{
		decodeRecord(t, `{"name":"No Key"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 0, queryInt(t, store, "SELECT COUNT(*) FROM accounts"))
}

func TestUpsertBatchFallsBackToSyncTimeWithoutModifiedOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)

	_, _, err := store.UpsertBatch(ctx, "accounts", "accountid", accountSchema(), []map[string]any{
		decodeRecord(t, `{"accountid":"a-1","name":"Acme"}`),
	})
	require.NoError(t, err)

	var validFrom, syncTime string
	require.NoError(t, store.db.QueryRow(
		"SELECT valid_from, sync_time FROM accounts WHERE accountid = 'a-1'").Scan(&validFrom, &syncTime))
	assert.Equal(t, syncTime, validFrom)
}

// Raw JSON payloads must round-trip numeric literals unchanged.
func TestUpsertBatchPreservesNumericLiterals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	createAccountsTable(t, store)

	_, _, err := store.UpsertBatch(ctx, "accounts", "accountid", accountSchema(), []map[string]any{
		decodeRecord(t, `{"accountid":"a-1","revenue":1500000.50}`),
	})
	require.NoError(t, err)

	var payload string
	require.NoError(t, store.db.QueryRow(
		"SELECT json_response FROM accounts WHERE accountid = 'a-1'").Scan(&payload))
	assert.Contains(t, payload, `"revenue":1500000.50`)
}

func TestDriverValue(t *testing.T) {
	assert.Equal(t, int64(42), driverValue(json.Number("42")))
	assert.Equal(t, 1.5, driverValue(json.Number("1.5")))
	assert.Equal(t, "text", driverValue("text"))
	assert.Equal(t, true, driverValue(true))
	assert.Nil(t, driverValue(nil))
	assert.JSONEq(t, `{"a":1}`, driverValue(map[string]any{"a": 1}).(string))
	assert.JSONEq(t, `[1,2]`, driverValue([]any{1, 2}).(string))
}
