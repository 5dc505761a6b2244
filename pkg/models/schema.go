package models

import "strings"

// ColumnSpec describes a single column projected from Dataverse metadata or
// observed in the local store. Name comparisons are case-insensitive
// throughout; storage-type comparisons additionally go through the type
// mapper's family normalization.
type ColumnSpec struct {
	Name        string `json:"name"`
	StorageType string `json:"storage_type"`
	EdmType     string `json:"edm_type,omitempty"`
	Nullable    bool   `json:"nullable"`
	MaxLength   int    `json:"max_length,omitempty"` // 0 = unbounded/unknown
}

// SameName reports whether both columns share a name, ignoring case.
func (c ColumnSpec) SameName(other ColumnSpec) bool {
	return strings.EqualFold(c.Name, other.Name)
}

// ForeignKeySpec describes a foreign-key relationship from a local column to
// a referenced table's business-key column.
type ForeignKeySpec struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Equal compares two foreign keys case-insensitively on all three fields.
func (f ForeignKeySpec) Equal(other ForeignKeySpec) bool {
	return strings.EqualFold(f.Column, other.Column) &&
		strings.EqualFold(f.ReferencedTable, other.ReferencedTable) &&
		strings.EqualFold(f.ReferencedColumn, other.ReferencedColumn)
}

// TableSchema is the projected or observed shape of one entity table.
// PrimaryKey is the business key (e.g. accountid), which is distinct from
// the surrogate row_id the store uses as its physical primary key.
type TableSchema struct {
	EntityName  string           `json:"entity_name"`
	Columns     []ColumnSpec     `json:"columns"`
	PrimaryKey  string           `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKeySpec `json:"foreign_keys,omitempty"`
	Indexes     []string         `json:"indexes,omitempty"`
}

// Column returns the column with the given name (case-insensitive).
func (t *TableSchema) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// HasColumn reports whether the schema declares the named column.
func (t *TableSchema) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns the column names in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// EffectiveBusinessKey resolves the usable business-key column for an
// entity. Dataverse metadata sometimes declares a primary key that never
// appears as a column (systemuser declares ownerid but the payload carries
// systemuserid), so when the declared key is absent the fallback chain is:
// `<singular>id` if present, then the first `*id` column that is not a
// lookup column (`_..._value`). Returns false when nothing qualifies.
func (t *TableSchema) EffectiveBusinessKey(singularName string) (string, bool) {
	if t.PrimaryKey != "" && t.HasColumn(t.PrimaryKey) {
		return t.PrimaryKey, true
	}
	if col, ok := t.Column(singularName + "id"); ok {
		return col.Name, true
	}
	for _, c := range t.Columns {
		if strings.HasSuffix(strings.ToLower(c.Name), "id") && !strings.HasPrefix(c.Name, "_") {
			return c.Name, true
		}
	}
	return "", false
}
