package dataverse

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

// FormattedValueSuffix is the annotation suffix Dataverse appends to fields
// whose display value differs from the raw value. Requested via the Prefer
// header on every data fetch.
const FormattedValueSuffix = "@OData.Community.Display.V1.FormattedValue"

// DetectOptionSets scans one record for formatted-value annotations and
// recovers the option-set fields it carries. A field is multi-select when
// the formatted value holds semicolon-separated labels or the raw value is a
// comma-separated code list. Fields whose codes cannot be parsed as integers
// are skipped.
func DetectOptionSets(record map[string]any) map[string]models.DetectedOptionSet {
	detected := make(map[string]models.DetectedOptionSet)

	for key := range record {
		if !strings.HasSuffix(key, FormattedValueSuffix) {
			continue
		}
		fieldName := strings.TrimSuffix(key, FormattedValueSuffix)

		rawValue := record[fieldName]
		formatted, ok := record[key].(string)
		if rawValue == nil || !ok {
			continue
		}

		multi := isMultiSelect(rawValue, formatted)
		codes := extractCodes(rawValue, formatted, multi)
		if len(codes) == 0 {
			continue
		}

		detected[fieldName] = models.DetectedOptionSet{
			FieldName:     fieldName,
			IsMultiSelect: multi,
			Codes:         codes,
		}
	}

	return detected
}

func isMultiSelect(raw any, formatted string) bool {
	if strings.Contains(formatted, ";") {
		return true
	}
	if s, ok := raw.(string); ok && strings.Contains(s, ",") {
		return true
	}
	return false
}

func extractCodes(raw any, formatted string, multi bool) map[int]string {
	if !multi {
		code, ok := parseCode(raw)
		if !ok {
			return nil
		}
		return map[int]string{code: formatted}
	}

	var codes []int
	if s, ok := raw.(string); ok {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			code, err := strconv.Atoi(part)
			if err != nil {
				return nil
			}
			codes = append(codes, code)
		}
	} else {
		code, ok := parseCode(raw)
		if !ok {
			return nil
		}
		codes = []int{code}
	}

	var labels []string
	for _, part := range strings.Split(formatted, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		labels = append(labels, part)
	}

	out := make(map[int]string, len(codes))
	for i := 0; i < len(codes) && i < len(labels); i++ {
		out[codes[i]] = labels[i]
	}
	return out
}

// parseCode converts a decoded JSON value to an integer option code.
func parseCode(raw any) (int, bool) {
	switch v := raw.(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
