package schemadiff

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

// maxErrorsDisplayed caps how many errors the console summary lists.
const maxErrorsDisplayed = 10

// Default report file names.
const (
	DefaultJSONReportPath     = "schema_validation_report.json"
	DefaultMarkdownReportPath = "schema_validation_report.md"
)

// ReportSummary is the issue tally section of a validation report.
type ReportSummary struct {
	TotalEntitiesChecked int `json:"total_entities_checked"`
	TotalDifferences     int `json:"total_differences"`
	Errors               int `json:"errors"`
	Warnings             int `json:"warnings"`
	Info                 int `json:"info"`
}

// ReportStatistics counts entity overlap between the two schema sets.
type ReportStatistics struct {
	EntitiesInDataverse int `json:"entities_in_dataverse"`
	EntitiesInDatabase  int `json:"entities_in_database"`
	EntitiesMatched     int `json:"entities_matched"`
	EntitiesMissingInDB int `json:"entities_missing_in_db"`
	EntitiesExtraInDB   int `json:"entities_extra_in_db"`
}

// Report is the machine-readable validation report.
type Report struct {
	Timestamp   string                    `json:"timestamp"`
	Summary     ReportSummary             `json:"summary"`
	Differences []models.SchemaDifference `json:"differences"`
	Statistics  ReportStatistics          `json:"statistics"`
}

// BuildReport assembles a Report from comparison results.
func BuildReport(diffs []models.SchemaDifference, dvSchemas, dbSchemas map[string]models.TableSchema) Report {
	counts := models.CountBySeverity(diffs)

	matched := 0
	for name := range dvSchemas {
		if _, ok := dbSchemas[name]; ok {
			matched++
		}
	}

	if diffs == nil {
		diffs = []models.SchemaDifference{}
	}

	return Report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Summary: ReportSummary{
			TotalEntitiesChecked: len(dvSchemas),
			TotalDifferences:     len(diffs),
			Errors:               counts[models.SeverityError],
			Warnings:             counts[models.SeverityWarning],
			Info:                 counts[models.SeverityInfo],
		},
		Differences: diffs,
		Statistics: ReportStatistics{
			EntitiesInDataverse: len(dvSchemas),
			EntitiesInDatabase:  len(dbSchemas),
			EntitiesMatched:     matched,
			EntitiesMissingInDB: len(dvSchemas) - matched,
			EntitiesExtraInDB:   len(dbSchemas) - matched,
		},
	}
}

// WriteJSON writes the report to path as indented JSON.
func (r Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal validation report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}
	return nil
}

// RenderMarkdown builds the human-readable validation report.
func RenderMarkdown(diffs []models.SchemaDifference, dvSchemas, dbSchemas map[string]models.TableSchema) string {
	return renderMarkdown(diffs, dvSchemas, dbSchemas, time.Now().UTC())
}

func renderMarkdown(diffs []models.SchemaDifference, dvSchemas, dbSchemas map[string]models.TableSchema, now time.Time) string {
	counts := models.CountBySeverity(diffs)
	errorCount := counts[models.SeverityError]

	matched := 0
	for name := range dvSchemas {
		if _, ok := dbSchemas[name]; ok {
			matched++
		}
	}

	var b strings.Builder

	b.WriteString("# Schema Validation Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n\n", now.Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Total Entities Checked:** %d\n", len(dvSchemas))
	fmt.Fprintf(&b, "- **Total Issues Found:** %d\n", len(diffs))
	fmt.Fprintf(&b, "  - Errors: %d\n", errorCount)
	fmt.Fprintf(&b, "  - Warnings: %d\n", counts[models.SeverityWarning])
	fmt.Fprintf(&b, "  - Info: %d\n\n", counts[models.SeverityInfo])

	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- **Entities in Dataverse:** %d\n", len(dvSchemas))
	fmt.Fprintf(&b, "- **Entities in Database:** %d\n", len(dbSchemas))
	fmt.Fprintf(&b, "- **Entities Matched:** %d\n", matched)
	fmt.Fprintf(&b, "- **Entities Missing in DB:** %d\n", len(dvSchemas)-matched)
	fmt.Fprintf(&b, "- **Entities Extra in DB:** %d\n\n", len(dbSchemas)-matched)

	b.WriteString("## Validation Result\n\n")
	if errorCount == 0 {
		b.WriteString("✅ **PASSED** - No critical errors found\n\n")
	} else {
		fmt.Fprintf(&b, "❌ **FAILED** - %d critical error(s) found\n\n", errorCount)
	}

	if len(diffs) == 0 {
		b.WriteString("## No Issues Found\n\nAll schemas match perfectly!\n")
		return b.String()
	}

	b.WriteString("## Detailed Issues\n")

	byEntity := make(map[string][]models.SchemaDifference)
	for _, d := range diffs {
		byEntity[d.Entity] = append(byEntity[d.Entity], d)
	}
	entities := make([]string, 0, len(byEntity))
	for name := range byEntity {
		entities = append(entities, name)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		fmt.Fprintf(&b, "\n### %s\n\n", entity)

		groups := []struct {
			severity models.Severity
			heading  string
			emoji    string
		}{
			{models.SeverityError, "**Errors:**", "❌"},
			{models.SeverityWarning, "**Warnings:**", "⚠️"},
			{models.SeverityInfo, "**Info:**", "ℹ️"},
		}
		for _, g := range groups {
			var group []models.SchemaDifference
			for _, d := range byEntity[entity] {
				if d.Severity == g.severity {
					group = append(group, d)
				}
			}
			if len(group) == 0 {
				continue
			}
			b.WriteString(g.heading + "\n\n")
			for _, d := range group {
				fmt.Fprintf(&b, "- %s **%s**: %s\n", g.emoji, d.IssueType, d.Description)
				writeDetails(&b, d.Details)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// writeDetails emits detail key/value pairs in a stable order.
func writeDetails(b *strings.Builder, details map[string]any) {
	if len(details) == 0 {
		return
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  - %s: `%v`\n", k, details[k])
	}
}

// WriteMarkdown renders the markdown report and writes it to path.
func WriteMarkdown(path string, diffs []models.SchemaDifference, dvSchemas, dbSchemas map[string]models.TableSchema) error {
	content := RenderMarkdown(diffs, dvSchemas, dbSchemas)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}
	return nil
}

// RenderSummary builds the console summary block and reports whether
// validation passed (no error-severity differences).
func RenderSummary(diffs []models.SchemaDifference, entitiesChecked int) (string, bool) {
	counts := models.CountBySeverity(diffs)
	errs := models.ErrorsOnly(diffs)

	divider := strings.Repeat("=", 60)
	var b strings.Builder
	b.WriteString("\n" + divider + "\n")
	b.WriteString("SCHEMA VALIDATION SUMMARY\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "Entities checked: %d\n", entitiesChecked)
	fmt.Fprintf(&b, "Total issues: %d\n", len(diffs))
	fmt.Fprintf(&b, "  - Errors:   %d\n", counts[models.SeverityError])
	fmt.Fprintf(&b, "  - Warnings: %d\n", counts[models.SeverityWarning])
	fmt.Fprintf(&b, "  - Info:     %d\n", counts[models.SeverityInfo])
	b.WriteString(divider + "\n")

	if len(errs) == 0 {
		b.WriteString("✅ VALIDATION PASSED - No critical errors\n")
		b.WriteString(divider + "\n")
		return b.String(), true
	}

	fmt.Fprintf(&b, "❌ VALIDATION FAILED - %d critical error(s)\n", len(errs))
	b.WriteString(divider + "\n")
	b.WriteString("\nCritical Errors:\n")
	for i, d := range errs {
		if i == maxErrorsDisplayed {
			fmt.Fprintf(&b, "... and %d more errors\n", len(errs)-maxErrorsDisplayed)
			break
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, d.Entity, d.Description)
	}
	b.WriteString(divider + "\n")
	return b.String(), false
}
