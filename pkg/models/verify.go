package models

import (
	"fmt"
	"strings"
)

// sampleDisplayLimit caps how many dangling IDs the rendered report shows
// per issue; SampleIDs itself holds up to ten.
const sampleDisplayLimit = 5

// VerificationIssue describes one foreign-key column with values that do not
// resolve against any version of the referenced table's business key.
type VerificationIssue struct {
	Table           string   `json:"table"`
	FKColumn        string   `json:"fk_column"`
	ReferencedTable string   `json:"referenced_table"`
	DanglingCount   int64    `json:"dangling_count"`
	TotalChecked    int64    `json:"total_checked"`
	SampleIDs       []string `json:"sample_ids,omitempty"`
}

// VerificationReport aggregates reference verification over a run.
type VerificationReport struct {
	Issues        []VerificationIssue `json:"issues,omitempty"`
	TablesChecked int                 `json:"tables_checked"`
	FKsChecked    int                 `json:"fks_checked"`
}

// HasIssues reports whether any dangling references were found.
func (r *VerificationReport) HasIssues() bool {
	return r != nil && len(r.Issues) > 0
}

// Render returns a human-readable summary block for CLI output.
func (r *VerificationReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reference verification: %d tables, %d foreign keys checked\n",
		r.TablesChecked, r.FKsChecked)
	if len(r.Issues) == 0 {
		b.WriteString("No dangling references found.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d foreign key(s) with dangling references:\n", len(r.Issues))
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "  %s.%s -> %s: %d dangling of %d checked\n",
			issue.Table, issue.FKColumn, issue.ReferencedTable,
			issue.DanglingCount, issue.TotalChecked)
		samples := issue.SampleIDs
		if len(samples) > sampleDisplayLimit {
			samples = samples[:sampleDisplayLimit]
		}
		if len(samples) > 0 {
			fmt.Fprintf(&b, "    sample ids: %s\n", strings.Join(samples, ", "))
		}
	}
	return b.String()
}
