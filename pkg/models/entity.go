package models

// EntityConfig selects one Dataverse entity for synchronization.
// Name is the singular logical name; APIName is the plural collection name
// used in request paths and as the local table name. Filtered entities are
// pulled only for IDs referenced from already-synced data.
type EntityConfig struct {
	Name        string `json:"name"`
	APIName     string `json:"api_name,omitempty"`
	Filtered    bool   `json:"filtered,omitempty"`
	Description string `json:"description,omitempty"`
}

// Normalize fills derived fields. The collection name defaults to the
// singular name with an appended "s"; this is the Dataverse convention and
// must be overridden via api_name when the server disagrees.
func (e *EntityConfig) Normalize() {
	if e.APIName == "" {
		e.APIName = e.Name + "s"
	}
}

// EntitiesFile is the on-disk shape of the entities config document.
type EntitiesFile struct {
	Entities []EntityConfig `json:"entities"`
}
