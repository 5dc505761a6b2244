package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/dataverse"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/storage/sqlite"
)

const syncMetadataXML = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="mscrm" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="account">
        <Key>
          <PropertyRef Name="accountid" />
        </Key>
        <Property Name="accountid" Type="Edm.Guid" Nullable="false" />
        <Property Name="name" Type="Edm.String" MaxLength="160" />
        <Property Name="statuscode" Type="Edm.Int32" />
        <Property Name="modifiedon" Type="Edm.DateTimeOffset" />
      </EntityType>
      <EntityType Name="contact">
        <Key>
          <PropertyRef Name="contactid" />
        </Key>
        <Property Name="contactid" Type="Edm.Guid" Nullable="false" />
        <Property Name="fullname" Type="Edm.String" MaxLength="400" />
        <Property Name="_parentcustomerid_value" Type="Edm.Guid" />
        <Property Name="modifiedon" Type="Edm.DateTimeOffset" />
        <NavigationProperty Name="parentcustomerid_account" Type="mscrm.account">
          <ReferentialConstraint Property="_parentcustomerid_value" ReferencedProperty="accountid" />
        </NavigationProperty>
      </EntityType>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// staticTokens satisfies dataverse.TokenProvider without an OAuth roundtrip.
type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "test-token", nil }
func (staticTokens) Invalidate()                           {}

// fakeDataverse serves canned $metadata and entity collections, evaluating
// the same $filter shapes the syncers generate.
type fakeDataverse struct {
	mu            sync.Mutex
	metadata      string
	records       map[string][]map[string]any
	rejectOrderBy map[string]bool
	requests      []*url.URL
}

func newFakeDataverse(metadata string) *fakeDataverse {
	return &fakeDataverse{
		metadata:      metadata,
		records:       make(map[string][]map[string]any),
		rejectOrderBy: make(map[string]bool),
	}
}

func (f *fakeDataverse) setRecords(entity string, records []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[entity] = records
}

// requestsFor returns the data requests made against one entity set, in
// arrival order.
func (f *fakeDataverse) requestsFor(entity string) []*url.URL {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*url.URL
	for _, u := range f.requests {
		if strings.HasSuffix(u.Path, "/"+entity) {
			out = append(out, u)
		}
	}
	return out
}

// serve starts the fake behind an httptest server and returns a real client
// pointed at it.
func (f *fakeDataverse) serve(t *testing.T) *dataverse.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return dataverse.NewClient(srv.URL, staticTokens{}, 8, zap.NewNop())
}

func (f *fakeDataverse) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.URL)

	if strings.HasSuffix(r.URL.Path, "/$metadata") {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, f.metadata)
		return
	}

	entity := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	records, ok := f.records[entity]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"Resource not found"}}`)
		return
	}
	if f.rejectOrderBy[entity] && r.URL.Query().Get("$orderby") != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"The attribute cannot be used in $orderby"}}`)
		return
	}

	filter := r.URL.Query().Get("$filter")
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if matchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"value": out})
}

// matchesFilter evaluates the three filter shapes the engine emits: a bare
// modifiedon gate, an OR-group of key equalities, or an OR-group wrapped
// with the gate.
func matchesFilter(record map[string]any, filter string) bool {
	if filter == "" {
		return true
	}
	if inner, found := strings.CutPrefix(filter, "("); found {
		parts := strings.SplitN(inner, ") and modifiedon gt ", 2)
		if len(parts) != 2 {
			return false
		}
		return matchesOr(record, parts[0]) && dataverse.RecordString(record, "modifiedon") > parts[1]
	}
	if ts, found := strings.CutPrefix(filter, "modifiedon gt "); found {
		return dataverse.RecordString(record, "modifiedon") > ts
	}
	return matchesOr(record, filter)
}

func matchesOr(record map[string]any, group string) bool {
	for _, clause := range strings.Split(group, " or ") {
		kv := strings.SplitN(clause, " eq ", 2)
		if len(kv) != 2 {
			continue
		}
		if dataverse.RecordString(record, kv[0]) == strings.Trim(kv[1], "'") {
			return true
		}
	}
	return false
}

func accountRecord(id, name string, status int, label, modified string) map[string]any {
	return map[string]any{
		"accountid":  id,
		"name":       name,
		"statuscode": status,
		"statuscode" + dataverse.FormattedValueSuffix: label,
		"modifiedon": modified,
	}
}

func contactRecord(id, fullname, parent, modified string) map[string]any {
	return map[string]any{
		"contactid":               id,
		"fullname":                fullname,
		"_parentcustomerid_value": parent,
		"modifiedon":              modified,
	}
}

func accountContactConfigs() []models.EntityConfig {
	return []models.EntityConfig{
		{Name: "account", APIName: "accounts"},
		{Name: "contact", APIName: "contacts"},
	}
}

func testAccountSchema() models.TableSchema {
	return models.TableSchema{
		EntityName: "account",
		PrimaryKey: "accountid",
		Columns: []models.ColumnSpec{
			{Name: "accountid", StorageType: "TEXT", EdmType: "Edm.Guid", Nullable: false},
			{Name: "name", StorageType: "TEXT", EdmType: "Edm.String", Nullable: true},
			{Name: "statuscode", StorageType: "INTEGER", EdmType: "Edm.Int32", Nullable: true},
			{Name: "modifiedon", StorageType: "TEXT", EdmType: "Edm.DateTimeOffset", Nullable: true},
		},
	}
}

func testContactSchema() models.TableSchema {
	return models.TableSchema{
		EntityName: "contact",
		PrimaryKey: "contactid",
		Columns: []models.ColumnSpec{
			{Name: "contactid", StorageType: "TEXT", EdmType: "Edm.Guid", Nullable: false},
			{Name: "fullname", StorageType: "TEXT", EdmType: "Edm.String", Nullable: true},
			{Name: "_parentcustomerid_value", StorageType: "TEXT", EdmType: "Edm.Guid", Nullable: true},
			{Name: "modifiedon", StorageType: "TEXT", EdmType: "Edm.DateTimeOffset", Nullable: true},
		},
		ForeignKeys: []models.ForeignKeySpec{
			{Column: "_parentcustomerid_value", ReferencedTable: "account", ReferencedColumn: "accountid"},
		},
	}
}

// newSyncStore opens a store on a temp file and returns the path for raw
// inspection connections.
func newSyncStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync_test.db")
	store, err := sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store, path
}

// openRawDB opens a second connection for assertions that read the store's
// file directly.
func openRawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func queryInt(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func idSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
