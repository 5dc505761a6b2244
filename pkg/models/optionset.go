package models

// DetectedOptionSet is one option-set field recovered from a record's
// formatted-value annotations. Codes maps the raw integer code to its
// human-readable label.
type DetectedOptionSet struct {
	FieldName     string
	IsMultiSelect bool
	Codes         map[int]string
}
