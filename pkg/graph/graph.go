// Package graph builds a bidirectional relationship index over configured
// entities, used for transitive ID extraction during filtered sync.
package graph

import (
	"sort"

	"github.com/vantera-data/dataverse-sync/pkg/models"
)

// Reference is one foreign-key edge. Table is the plural API name of the
// table on the other end of the edge, ReferencedColumn the business key it
// points at (never the row_id surrogate).
type Reference struct {
	Table            string
	FKColumn         string
	ReferencedColumn string
}

// entityRelationships holds both directions for a single entity.
type entityRelationships struct {
	referencesTo []Reference
	referencedBy []Reference
}

// Graph indexes FK relationships between configured entities, keyed by
// plural API name. Relationships that point at unconfigured entities are
// dropped at build time.
type Graph struct {
	relationships map[string]*entityRelationships
}

// Build constructs the graph from parsed metadata schemas (keyed by singular
// entity name) and the configured entities. Every configured entity gets a
// node even when it has no edges.
func Build(schemas map[string]models.TableSchema, configs []models.EntityConfig) *Graph {
	g := &Graph{relationships: make(map[string]*entityRelationships, len(configs))}

	nameToAPI := make(map[string]string, len(configs))
	for _, cfg := range configs {
		nameToAPI[cfg.Name] = cfg.APIName
		g.relationships[cfg.APIName] = &entityRelationships{}
	}

	for _, cfg := range configs {
		schema, ok := schemas[cfg.Name]
		if !ok {
			continue
		}
		for _, fk := range schema.ForeignKeys {
			referencedAPI, ok := nameToAPI[fk.ReferencedTable]
			if !ok {
				continue
			}
			g.relationships[cfg.APIName].referencesTo = append(
				g.relationships[cfg.APIName].referencesTo,
				Reference{Table: referencedAPI, FKColumn: fk.Column, ReferencedColumn: fk.ReferencedColumn},
			)
			g.relationships[referencedAPI].referencedBy = append(
				g.relationships[referencedAPI].referencedBy,
				Reference{Table: cfg.APIName, FKColumn: fk.Column, ReferencedColumn: fk.ReferencedColumn},
			)
		}
	}

	return g
}

// ThatReference returns the edges pointing at the given entity: every
// configured table holding a foreign key into it.
func (g *Graph) ThatReference(apiName string) []Reference {
	rels, ok := g.relationships[apiName]
	if !ok {
		return nil
	}
	return rels.referencedBy
}

// References returns the edges leaving the given entity: every configured
// table its foreign keys point at.
func (g *Graph) References(apiName string) []Reference {
	rels, ok := g.relationships[apiName]
	if !ok {
		return nil
	}
	return rels.referencesTo
}

// Entities returns the plural API names of all nodes, sorted for stable
// iteration.
func (g *Graph) Entities() []string {
	names := make([]string, 0, len(g.relationships))
	for name := range g.relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
