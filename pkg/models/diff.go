package models

// Severity classifies a schema difference.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Schema difference issue types.
const (
	DiffMissingTable     = "missing_table"
	DiffExtraTable       = "extra_table"
	DiffMissingColumn    = "missing_column"
	DiffExtraColumn      = "extra_column"
	DiffTypeMismatch     = "type_mismatch"
	DiffNullableMismatch = "nullable_mismatch"
	DiffPKMismatch       = "pk_mismatch"
	DiffFKMissing        = "fk_missing"
	DiffFKMismatch       = "fk_mismatch"
	DiffFKExtra          = "fk_extra"

	// Pre-sync validation outcomes that are not column-level comparisons.
	DiffEntityNotInMetadata = "entity_not_in_metadata"
	DiffNewEntity           = "new_entity"
)

// SchemaDifference is one divergence between the projected metadata schema
// and the observed store schema.
type SchemaDifference struct {
	Entity      string         `json:"entity"`
	IssueType   string         `json:"issue_type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

// CountBySeverity tallies differences per severity level.
func CountBySeverity(diffs []SchemaDifference) map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, d := range diffs {
		counts[d.Severity]++
	}
	return counts
}

// ErrorsOnly returns just the error-severity differences.
func ErrorsOnly(diffs []SchemaDifference) []SchemaDifference {
	var errs []SchemaDifference
	for _, d := range diffs {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}
