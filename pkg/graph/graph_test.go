package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

func testConfigs() []models.EntityConfig {
	return []models.EntityConfig{
		{Name: "account", APIName: "accounts"},
		{Name: "contact", APIName: "contacts"},
		{Name: "candidate", APIName: "candidates", Filtered: true},
	}
}

func testSchemas() map[string]models.TableSchema {
	return map[string]models.TableSchema{
		"account": {
			EntityName: "account",
			PrimaryKey: "accountid",
			ForeignKeys: []models.ForeignKeySpec{
				{Column: "_primarycontactid_value", ReferencedTable: "contact", ReferencedColumn: "contactid"},
				{Column: "_ownerid_value", ReferencedTable: "systemuser", ReferencedColumn: "systemuserid"},
			},
		},
		"contact": {
			EntityName: "contact",
			PrimaryKey: "contactid",
		},
		"candidate": {
			EntityName: "candidate",
			PrimaryKey: "candidateid",
			ForeignKeys: []models.ForeignKeySpec{
				{Column: "_accountid_value", ReferencedTable: "account", ReferencedColumn: "accountid"},
				{Column: "_contactid_value", ReferencedTable: "contact", ReferencedColumn: "contactid"},
			},
		},
	}
}

func TestBuild_ReferencesTo(t *testing.T) {
	g := Build(testSchemas(), testConfigs())

	refs := g.References("candidates")
	require.Len(t, refs, 2)
	assert.Contains(t, refs, Reference{Table: "accounts", FKColumn: "_accountid_value", ReferencedColumn: "accountid"})
	assert.Contains(t, refs, Reference{Table: "contacts", FKColumn: "_contactid_value", ReferencedColumn: "contactid"})
}

func TestBuild_ReferencedBy(t *testing.T) {
	g := Build(testSchemas(), testConfigs())

	refs := g.ThatReference("accounts")
	require.Len(t, refs, 1)
	assert.Equal(t, Reference{
		Table:            "candidates",
		FKColumn:         "_accountid_value",
		ReferencedColumn: "accountid",
	}, refs[0])

	// contacts is referenced by both accounts and candidates.
	contactRefs := g.ThatReference("contacts")
	require.Len(t, contactRefs, 2)
	tables := []string{contactRefs[0].Table, contactRefs[1].Table}
	assert.Contains(t, tables, "accounts")
	assert.Contains(t, tables, "candidates")
}

func TestBuild_UnconfiguredReferenceSkipped(t *testing.T) {
	g := Build(testSchemas(), testConfigs())

	// accounts._ownerid_value points at systemuser, which is not configured.
	refs := g.References("accounts")
	require.Len(t, refs, 1)
	assert.Equal(t, "contacts", refs[0].Table)
}

func TestBuild_EntityMissingFromMetadata(t *testing.T) {
	configs := append(testConfigs(), models.EntityConfig{Name: "ghost", APIName: "ghosts"})
	g := Build(testSchemas(), configs)

	// Node exists but has no edges.
	assert.Empty(t, g.References("ghosts"))
	assert.Empty(t, g.ThatReference("ghosts"))
	assert.Contains(t, g.Entities(), "ghosts")
}

func TestBuild_UnknownEntityAccessors(t *testing.T) {
	g := Build(testSchemas(), testConfigs())

	assert.Nil(t, g.ThatReference("nosuch"))
	assert.Nil(t, g.References("nosuch"))
}

func TestEntities_Sorted(t *testing.T) {
	g := Build(testSchemas(), testConfigs())
	assert.Equal(t, []string{"accounts", "candidates", "contacts"}, g.Entities())
}
