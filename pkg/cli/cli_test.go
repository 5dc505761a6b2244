package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage/sqlite"
)

// pinEnv keeps host environment variables from steering command tests.
// t.Setenv restores the originals on cleanup.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATAVERSE_API_URL",
		"DATAVERSE_CLIENT_ID",
		"DATAVERSE_CLIENT_SECRET",
		"DATAVERSE_SCOPE",
		"SQLITE_DB_PATH",
		"POSTGRES_CONNECTION_STRING",
	} {
		t.Setenv(key, "")
	}
}

func writeEntitiesConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "entities_config.json")
	content := `{"entities": [{"name": "account"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCommand executes the CLI with the given arguments, capturing output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand("1.2.3")

	names := make([]string, 0, len(root.Commands()))
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "sync")
	assert.Contains(t, names, "validate-schema")
	assert.Contains(t, names, "generate-optionset-config")
}

func TestGenerateOptionSetConfigCommand(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "synced.db")

	store, err := sqlite.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	schema := models.TableSchema{
		EntityName: "account",
		PrimaryKey: "accountid",
		Columns: []models.ColumnSpec{
			{Name: "accountid", StorageType: "TEXT", Nullable: false},
			{Name: "statuscode", StorageType: "INTEGER", Nullable: true},
			{Name: "modifiedon", StorageType: "TEXT", Nullable: true},
		},
	}
	require.NoError(t, store.CreateEntityTable(ctx, "accounts", schema))
	_, _, err = store.UpsertBatch(ctx, "accounts", "accountid", schema, []map[string]any{
		{
			"accountid":  "a-1",
			"statuscode": 1,
			"statuscode" + dataverse.FormattedValueSuffix: "Active",
			"modifiedon": "2024-01-01T00:00:00Z",
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	entitiesPath := writeEntitiesConfig(t, tmp)

	out, err := runCommand(t, "generate-optionset-config", "--db", dbPath, "--entities-config", entitiesPath)
	require.NoError(t, err)

	var cfg map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, map[string][]string{"account": {"statuscode"}}, cfg)
}

func TestGenerateOptionSetConfigMissingDatabase(t *testing.T) {
	tmp := t.TempDir()
	entitiesPath := writeEntitiesConfig(t, tmp)

	_, err := runCommand(t, "generate-optionset-config",
		"--db", filepath.Join(tmp, "absent.db"),
		"--entities-config", entitiesPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "database not found")
}

func TestSyncReportsMissingEnvironment(t *testing.T) {
	pinEnv(t)
	entitiesPath := writeEntitiesConfig(t, t.TempDir())

	_, err := runCommand(t, "sync", "--entities-config", entitiesPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "missing required environment variables")
}

func TestSyncRequiresEmbeddedStore(t *testing.T) {
	pinEnv(t)
	t.Setenv("DATAVERSE_API_URL", "https://org.crm.dynamics.com/api/data/v9.2")
	t.Setenv("DATAVERSE_CLIENT_ID", "client-id")
	t.Setenv("DATAVERSE_CLIENT_SECRET", "client-secret")
	t.Setenv("DATAVERSE_SCOPE", "https://org.crm.dynamics.com/.default")
	t.Setenv("POSTGRES_CONNECTION_STRING", "postgres://sync:pw@localhost:5432/dataverse")

	entitiesPath := writeEntitiesConfig(t, t.TempDir())

	_, err := runCommand(t, "sync", "--entities-config", entitiesPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "SQLITE_DB_PATH")
}

func TestSyncMissingEntitiesConfig(t *testing.T) {
	pinEnv(t)
	t.Setenv("DATAVERSE_API_URL", "https://org.crm.dynamics.com/api/data/v9.2")
	t.Setenv("DATAVERSE_CLIENT_ID", "client-id")
	t.Setenv("DATAVERSE_CLIENT_SECRET", "client-secret")
	t.Setenv("DATAVERSE_SCOPE", "https://org.crm.dynamics.com/.default")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(t.TempDir(), "sync.db"))

	_, err := runCommand(t, "sync", "--entities-config", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "entities config")
}

func TestValidateSchemaRejectsUnknownDBType(t *testing.T) {
	_, err := runCommand(t, "validate-schema", "--db-type", "mysql")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "unknown --db-type")
}
