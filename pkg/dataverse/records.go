package dataverse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// odataKeyPrefix marks response-level metadata keys (@odata.etag and
// friends) that change on every fetch without the record itself changing.
const odataKeyPrefix = "@odata."

// CanonicalPayload serializes a record for change detection: response-level
// @odata. keys are dropped and the remainder is marshaled with sorted keys,
// so two fetches of an unchanged record produce identical bytes. Formatted
// value annotations (field@...) are kept; they belong to the record.
func CanonicalPayload(record map[string]any) (string, error) {
	clean := make(map[string]any, len(record))
	for k, v := range record {
		if strings.HasPrefix(k, odataKeyPrefix) {
			continue
		}
		clean[k] = v
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize record: %w", err)
	}
	return string(data), nil
}

// RecordString extracts a string field from a decoded record, returning ""
// when absent or not a string.
func RecordString(record map[string]any, key string) string {
	if v, ok := record[key].(string); ok {
		return v
	}
	return ""
}
