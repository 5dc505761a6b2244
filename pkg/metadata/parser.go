// Package metadata parses OData CSDL $metadata XML into projected table
// schemas. The $metadata document is the authoritative source for column
// types, primary keys, and relationships; everything downstream (DDL,
// schema validation, the relationship graph) is derived from it.
package metadata

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
	"github.com/vantera-data/dataverse-sync/pkg/models"
	"github.com/vantera-data/dataverse-sync/pkg/typemap"
)

// CSDL element shapes. Attribute values stay strings; defaults are applied
// during conversion (Nullable defaults to true, MaxLength to unbounded).
type csdlDocument struct {
	XMLName      xml.Name         `xml:"Edmx"`
	DataServices csdlDataServices `xml:"DataServices"`
}

type csdlDataServices struct {
	Schemas []csdlSchema `xml:"http://docs.oasis-open.org/odata/ns/edm Schema"`
}

type csdlSchema struct {
	Namespace   string           `xml:"Namespace,attr"`
	EntityTypes []csdlEntityType `xml:"http://docs.oasis-open.org/odata/ns/edm EntityType"`
}

type csdlEntityType struct {
	Name          string         `xml:"Name,attr"`
	Abstract      string         `xml:"Abstract,attr"`
	Key           *csdlKey       `xml:"http://docs.oasis-open.org/odata/ns/edm Key"`
	Properties    []csdlProperty `xml:"http://docs.oasis-open.org/odata/ns/edm Property"`
	NavProperties []csdlNavProp  `xml:"http://docs.oasis-open.org/odata/ns/edm NavigationProperty"`
}

type csdlKey struct {
	PropertyRefs []csdlPropertyRef `xml:"http://docs.oasis-open.org/odata/ns/edm PropertyRef"`
}

type csdlPropertyRef struct {
	Name string `xml:"Name,attr"`
}

type csdlProperty struct {
	Name      string `xml:"Name,attr"`
	Type      string `xml:"Type,attr"`
	Nullable  string `xml:"Nullable,attr"`
	MaxLength string `xml:"MaxLength,attr"`
}

type csdlNavProp struct {
	Name       string          `xml:"Name,attr"`
	Type       string          `xml:"Type,attr"`
	Constraint *csdlConstraint `xml:"http://docs.oasis-open.org/odata/ns/edm ReferentialConstraint"`
}

type csdlConstraint struct {
	Property           string `xml:"Property,attr"`
	ReferencedProperty string `xml:"ReferencedProperty,attr"`
}

// Parser converts CSDL XML into models.TableSchema values for a storage
// target. Option-set fields (configured per entity) are forced to INTEGER
// columns even though the metadata declares them Edm.String.
type Parser struct {
	target typemap.Target
	logger *zap.Logger
}

// NewParser returns a parser for the given storage target.
func NewParser(target typemap.Target, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{target: target, logger: logger}
}

// Parse extracts every non-abstract EntityType from the document, keyed by
// the entity's singular logical name. optionSetFields maps singular entity
// name to the field names that hold option-set codes for it.
func (p *Parser) Parse(xmlContent []byte, optionSetFields map[string][]string) (map[string]models.TableSchema, error) {
	var doc csdlDocument
	if err := xml.Unmarshal(xmlContent, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing CSDL XML: %v", apperrors.ErrMetadata, err)
	}

	schemas := make(map[string]models.TableSchema)
	for _, schema := range doc.DataServices.Schemas {
		for _, entity := range schema.EntityTypes {
			if entity.Abstract == "true" || entity.Name == "" {
				continue
			}

			optionSets := make(map[string]bool)
			for _, f := range optionSetFields[entity.Name] {
				optionSets[f] = true
			}

			schemas[entity.Name] = p.parseEntityType(entity, optionSets)
		}
	}

	p.logger.Debug("parsed metadata document",
		zap.Int("entity_count", len(schemas)))
	return schemas, nil
}

func (p *Parser) parseEntityType(entity csdlEntityType, optionSets map[string]bool) models.TableSchema {
	pk := parsePrimaryKey(entity.Key)
	columns := p.parseProperties(entity.Properties, optionSets)
	fks := parseForeignKeys(entity.NavProperties, columns, pk)

	return models.TableSchema{
		EntityName:  entity.Name,
		Columns:     columns,
		PrimaryKey:  pk,
		ForeignKeys: fks,
	}
}

func parsePrimaryKey(key *csdlKey) string {
	if key == nil || len(key.PropertyRefs) == 0 {
		return ""
	}
	return key.PropertyRefs[0].Name
}

func (p *Parser) parseProperties(props []csdlProperty, optionSets map[string]bool) []models.ColumnSpec {
	columns := make([]models.ColumnSpec, 0, len(props))
	for _, prop := range props {
		if prop.Name == "" || prop.Type == "" {
			continue
		}

		nullable := !strings.EqualFold(prop.Nullable, "false")

		maxLength := 0
		if prop.MaxLength != "" {
			if n, err := strconv.Atoi(prop.MaxLength); err == nil {
				maxLength = n
			}
		}

		isOptionSet := optionSets[prop.Name]
		columns = append(columns, models.ColumnSpec{
			Name:        prop.Name,
			StorageType: typemap.MapEdm(prop.Type, p.target, maxLength, isOptionSet),
			EdmType:     prop.Type,
			Nullable:    nullable,
			MaxLength:   maxLength,
		})
	}
	return columns
}

// parseForeignKeys collects relationships from two sources. Navigation
// properties with referential constraints are authoritative; the remaining
// columns are pattern-matched for the two Dataverse conventions:
//
//   - `_<field>_value` lookup columns reference `<field>.<field>id`.
//   - `<name>id` columns (junction-style tables carry these without any
//     NavigationProperty) reference `<name>.<name>id`, unless the column is
//     the entity's own key or the rowversion column.
func parseForeignKeys(navProps []csdlNavProp, columns []models.ColumnSpec, primaryKey string) []models.ForeignKeySpec {
	var fks []models.ForeignKeySpec

	for _, nav := range navProps {
		if nav.Constraint == nil {
			continue
		}
		if nav.Constraint.Property == "" || nav.Constraint.ReferencedProperty == "" {
			continue
		}
		referenced := referencedEntityFromType(nav.Type)
		if referenced == "" {
			continue
		}
		fks = append(fks, models.ForeignKeySpec{
			Column:           nav.Constraint.Property,
			ReferencedTable:  referenced,
			ReferencedColumn: nav.Constraint.ReferencedProperty,
		})
	}

	covered := make(map[string]bool, len(fks))
	for _, fk := range fks {
		covered[fk.Column] = true
	}

	for _, col := range columns {
		if covered[col.Name] {
			continue
		}
		lower := strings.ToLower(col.Name)

		if strings.HasPrefix(lower, "_") && strings.HasSuffix(lower, "_value") {
			field := col.Name[1 : len(col.Name)-len("_value")]
			fks = append(fks, models.ForeignKeySpec{
				Column:           col.Name,
				ReferencedTable:  field,
				ReferencedColumn: field + "id",
			})
			continue
		}

		if strings.HasSuffix(lower, "id") && col.Name != primaryKey && col.Name != "versionnumber" {
			fks = append(fks, models.ForeignKeySpec{
				Column:           col.Name,
				ReferencedTable:  col.Name[:len(col.Name)-len("id")],
				ReferencedColumn: col.Name,
			})
		}
	}

	return fks
}

// referencedEntityFromType extracts the entity name from a NavigationProperty
// Type attribute, e.g. "Collection(mscrm.account)" or "mscrm.contact".
func referencedEntityFromType(typeAttr string) string {
	if strings.HasPrefix(typeAttr, "Collection(") && strings.HasSuffix(typeAttr, ")") {
		typeAttr = typeAttr[len("Collection(") : len(typeAttr)-1]
	}
	if idx := strings.LastIndex(typeAttr, "."); idx >= 0 {
		return typeAttr[idx+1:]
	}
	return typeAttr
}

// Select filters parsed schemas down to the requested singular names,
// returning the matched schemas and the names missing from the document.
func Select(schemas map[string]models.TableSchema, names []string) (map[string]models.TableSchema, []string) {
	selected := make(map[string]models.TableSchema, len(names))
	var missing []string
	for _, name := range names {
		if schema, ok := schemas[name]; ok {
			selected[name] = schema
		} else {
			missing = append(missing, name)
		}
	}
	return selected, missing
}
