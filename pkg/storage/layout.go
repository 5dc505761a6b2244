package storage

// Naming conventions for the store's internal tables. The leading underscore
// keeps them out of entity-table listings.
const (
	// OptionSetTablePrefix prefixes the lookup tables that hold option-set
	// codes and labels.
	OptionSetTablePrefix = "_optionset_"

	// JunctionTablePrefix prefixes the temporal junction tables that link
	// entity rows to multi-select option codes.
	JunctionTablePrefix = "_junction_"
)
