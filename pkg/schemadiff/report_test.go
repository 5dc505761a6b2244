package schemadiff

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

func sampleDiffs() []models.SchemaDifference {
	return []models.SchemaDifference{
		{
			Entity:      "account",
			IssueType:   models.DiffTypeMismatch,
			Severity:    models.SeverityError,
			Description: "Column 'name' type mismatch",
			Details:     map[string]any{"column_name": "name", "expected_normalized": "TEXT", "actual_normalized": "INTEGER"},
		},
		{
			Entity:      "account",
			IssueType:   models.DiffExtraColumn,
			Severity:    models.SeverityWarning,
			Description: "Column 'obsolete' exists in database but not in Dataverse",
		},
		{
			Entity:      "contact",
			IssueType:   models.DiffMissingTable,
			Severity:    models.SeverityInfo,
			Description: "Table 'contact' exists in Dataverse but not in database",
		},
	}
}

func sampleSchemas() (map[string]models.TableSchema, map[string]models.TableSchema) {
	dv := map[string]models.TableSchema{
		"account": {EntityName: "account"},
		"contact": {EntityName: "contact"},
	}
	db := map[string]models.TableSchema{
		"account": {EntityName: "account"},
		"legacy":  {EntityName: "legacy"},
	}
	return dv, db
}

func TestBuildReport(t *testing.T) {
	dv, db := sampleSchemas()
	report := BuildReport(sampleDiffs(), dv, db)

	assert.Equal(t, 2, report.Summary.TotalEntitiesChecked)
	assert.Equal(t, 3, report.Summary.TotalDifferences)
	assert.Equal(t, 1, report.Summary.Errors)
	assert.Equal(t, 1, report.Summary.Warnings)
	assert.Equal(t, 1, report.Summary.Info)

	assert.Equal(t, 2, report.Statistics.EntitiesInDataverse)
	assert.Equal(t, 2, report.Statistics.EntitiesInDatabase)
	assert.Equal(t, 1, report.Statistics.EntitiesMatched)
	assert.Equal(t, 1, report.Statistics.EntitiesMissingInDB)
	assert.Equal(t, 1, report.Statistics.EntitiesExtraInDB)

	_, err := time.Parse(time.RFC3339, report.Timestamp)
	assert.NoError(t, err)
}

func TestBuildReport_NoDiffs(t *testing.T) {
	dv, db := sampleSchemas()
	report := BuildReport(nil, dv, db)

	assert.Equal(t, 0, report.Summary.TotalDifferences)
	assert.NotNil(t, report.Differences)
}

func TestReportWriteJSON(t *testing.T) {
	dv, db := sampleSchemas()
	report := BuildReport(sampleDiffs(), dv, db)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Summary, decoded.Summary)
	assert.Len(t, decoded.Differences, 3)
	assert.Equal(t, "type_mismatch", decoded.Differences[0].IssueType)
}

func TestRenderMarkdown(t *testing.T) {
	dv, db := sampleSchemas()
	md := renderMarkdown(sampleDiffs(), dv, db, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))

	assert.Contains(t, md, "# Schema Validation Report")
	assert.Contains(t, md, "**Generated:** 2026-03-14 09:30:00 UTC")
	assert.Contains(t, md, "- **Total Entities Checked:** 2")
	assert.Contains(t, md, "- **Total Issues Found:** 3")
	assert.Contains(t, md, "❌ **FAILED** - 1 critical error(s) found")
	assert.Contains(t, md, "## Detailed Issues")
	assert.Contains(t, md, "### account")
	assert.Contains(t, md, "### contact")
	assert.Contains(t, md, "- ❌ **type_mismatch**: Column 'name' type mismatch")
	assert.Contains(t, md, "  - column_name: `name`")

	// Entities sorted: account section before contact.
	assert.Less(t, strings.Index(md, "### account"), strings.Index(md, "### contact"))
}

func TestRenderMarkdown_NoIssues(t *testing.T) {
	dv, db := sampleSchemas()
	md := renderMarkdown(nil, dv, db, time.Now().UTC())

	assert.Contains(t, md, "✅ **PASSED** - No critical errors found")
	assert.Contains(t, md, "## No Issues Found")
	assert.NotContains(t, md, "## Detailed Issues")
}

func TestWriteMarkdown(t *testing.T) {
	dv, db := sampleSchemas()
	path := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, WriteMarkdown(path, sampleDiffs(), dv, db))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Schema Validation Report")
}

func TestRenderSummary_Passed(t *testing.T) {
	diffs := []models.SchemaDifference{
		{Entity: "account", Severity: models.SeverityWarning, Description: "w"},
	}
	text, passed := RenderSummary(diffs, 2)

	assert.True(t, passed)
	assert.Contains(t, text, "SCHEMA VALIDATION SUMMARY")
	assert.Contains(t, text, "Entities checked: 2")
	assert.Contains(t, text, "✅ VALIDATION PASSED")
}

func TestRenderSummary_Failed(t *testing.T) {
	var diffs []models.SchemaDifference
	for i := 0; i < 12; i++ {
		diffs = append(diffs, models.SchemaDifference{
			Entity:      "account",
			Severity:    models.SeverityError,
			Description: "type mismatch",
		})
	}

	text, passed := RenderSummary(diffs, 1)

	assert.False(t, passed)
	assert.Contains(t, text, "❌ VALIDATION FAILED - 12 critical error(s)")
	assert.Contains(t, text, "1. [account] type mismatch")
	assert.Contains(t, text, "10. [account] type mismatch")
	assert.NotContains(t, text, "11. [account]")
	assert.Contains(t, text, "... and 2 more errors")
}
