// Package typemap translates Dataverse EDM property types into storage
// column types for the supported database targets, and normalizes observed
// column types back into comparable families for schema validation.
package typemap

import (
	"strconv"
	"strings"
)

// Target identifies a storage dialect.
type Target string

const (
	SQLite   Target = "sqlite"
	Postgres Target = "postgresql"
)

// sqliteTypes maps EDM types to SQLite storage classes.
var sqliteTypes = map[string]string{
	"Edm.String":         "TEXT",
	"Edm.Int16":          "INTEGER",
	"Edm.Int32":          "INTEGER",
	"Edm.Int64":          "INTEGER",
	"Edm.Decimal":        "REAL",
	"Edm.Double":         "REAL",
	"Edm.Boolean":        "INTEGER",
	"Edm.DateTimeOffset": "TEXT",
	"Edm.Date":           "TEXT",
	"Edm.TimeOfDay":      "TEXT",
	"Edm.Guid":           "TEXT",
	"Edm.Binary":         "BLOB",
}

// postgresTypes maps EDM types to PostgreSQL column types. Edm.String is
// handled separately because it carries an optional max length.
var postgresTypes = map[string]string{
	"Edm.Int16":          "SMALLINT",
	"Edm.Int32":          "INTEGER",
	"Edm.Int64":          "BIGINT",
	"Edm.Decimal":        "NUMERIC",
	"Edm.Double":         "DOUBLE PRECISION",
	"Edm.Boolean":        "BOOLEAN",
	"Edm.DateTimeOffset": "TIMESTAMP WITH TIME ZONE",
	"Edm.Date":           "DATE",
	"Edm.TimeOfDay":      "TIME",
	"Edm.Guid":           "UUID",
	"Edm.Binary":         "BYTEA",
}

// MapEdm converts an EDM type to the storage type for the target dialect.
// Option-set fields arrive from the API as Edm.String metadata but hold
// integer codes locally, so they map to INTEGER regardless of target.
// Unknown EDM types fall back to TEXT.
func MapEdm(edmType string, target Target, maxLength int, isOptionSet bool) string {
	if isOptionSet && edmType == "Edm.String" {
		return "INTEGER"
	}

	switch target {
	case Postgres:
		if edmType == "Edm.String" {
			if maxLength > 0 {
				return "VARCHAR(" + strconv.Itoa(maxLength) + ")"
			}
			return "TEXT"
		}
		if t, ok := postgresTypes[edmType]; ok {
			return t
		}
	default:
		if t, ok := sqliteTypes[edmType]; ok {
			return t
		}
	}
	return "TEXT"
}

// sqliteFamilies folds SQLite type-affinity aliases into one canonical name
// per storage class.
var sqliteFamilies = map[string]string{
	"VARCHAR":   "TEXT",
	"CHAR":      "TEXT",
	"NVARCHAR":  "TEXT",
	"NCHAR":     "TEXT",
	"CLOB":      "TEXT",
	"INT":       "INTEGER",
	"TINYINT":   "INTEGER",
	"SMALLINT":  "INTEGER",
	"MEDIUMINT": "INTEGER",
	"BIGINT":    "INTEGER",
	"DOUBLE":    "REAL",
	"FLOAT":     "REAL",
	"NUMERIC":   "REAL",
	"DECIMAL":   "REAL",
	"BINARY":    "BLOB",
	"VARBINARY": "BLOB",
}

// postgresFamilies folds PostgreSQL type aliases as reported by
// information_schema into canonical names.
var postgresFamilies = map[string]string{
	"CHARACTER VARYING":        "TEXT",
	"VARCHAR":                  "TEXT",
	"CHARACTER":                "TEXT",
	"CHAR":                     "TEXT",
	"INT":                      "INTEGER",
	"INT4":                     "INTEGER",
	"INT2":                     "SMALLINT",
	"INT8":                     "BIGINT",
	"FLOAT8":                   "DOUBLE PRECISION",
	"FLOAT4":                   "REAL",
	"BOOL":                     "BOOLEAN",
	"TIMESTAMPTZ":              "TIMESTAMP WITH TIME ZONE",
	"TIMESTAMP WITH TIME ZONE": "TIMESTAMP WITH TIME ZONE",
}

// Normalize reduces a storage type to its canonical family name for the
// target dialect: uppercase, any "(...)" length suffix stripped, aliases
// folded. Comparing normalized forms answers "are these the same column
// type" across DDL spellings.
func Normalize(storageType string, target Target) string {
	t := strings.ToUpper(strings.TrimSpace(storageType))
	if idx := strings.Index(t, "("); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}

	var families map[string]string
	switch target {
	case Postgres:
		families = postgresFamilies
	default:
		families = sqliteFamilies
	}
	if canonical, ok := families[t]; ok {
		return canonical
	}
	return t
}

// SameFamily reports whether two storage types normalize to the same family.
func SameFamily(a, b string, target Target) bool {
	return Normalize(a, target) == Normalize(b, target)
}
