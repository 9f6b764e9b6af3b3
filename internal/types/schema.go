// Package types contains the record model shared by the scraper, the sinks and the CLI.
package types

import (
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

// Schema is the ordered mapping of record field names to result table header labels.
// Field order drives CSV column order and database column order.
type Schema struct {
	fields   *orderedmap.OrderedMap[string, string]
	keyField string
}

// NewSchema builds a Schema from (name, header) pairs. Names must be unique
// and the key field must be one of them.
func NewSchema(keyField string, pairs ...[2]string) (*Schema, error) {
	s := &Schema{
		fields:   orderedmap.NewOrderedMap[string, string](),
		keyField: keyField,
	}
	for _, p := range pairs {
		name, header := strings.TrimSpace(p[0]), strings.TrimSpace(p[1])
		if name == "" {
			return nil, fmt.Errorf("schema field name cannot be empty")
		}
		if header == "" {
			header = name
		}
		if !s.fields.Set(name, header) {
			return nil, fmt.Errorf("duplicate schema field %q", name)
		}
	}
	if s.fields.Len() == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	if _, ok := s.fields.Get(keyField); !ok {
		return nil, fmt.Errorf("key field %q is not part of the schema", keyField)
	}
	return s, nil
}

// Fields returns the field names in order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, s.fields.Len())
	for el := s.fields.Front(); el != nil; el = el.Next() {
		names = append(names, el.Key)
	}
	return names
}

// Header returns the table header label mapped to a field.
func (s *Schema) Header(field string) (string, bool) {
	return s.fields.Get(field)
}

// KeyField returns the natural unique identifier used for upserts.
func (s *Schema) KeyField() string {
	return s.keyField
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return s.fields.Len()
}

// Has reports whether field is mapped.
func (s *Schema) Has(field string) bool {
	_, ok := s.fields.Get(field)
	return ok
}

// ColumnIndex resolves every schema field to its position in a header row.
// Labels are matched case-insensitively after collapsing whitespace. The
// returned map holds field -> column index; missing lists unmatched fields.
func (s *Schema) ColumnIndex(headers []string) (index map[string]int, missing []string) {
	positions := make(map[string]int, len(headers))
	for i, h := range headers {
		key := normalizeLabel(h)
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}

	index = make(map[string]int, s.fields.Len())
	for el := s.fields.Front(); el != nil; el = el.Next() {
		if pos, ok := positions[normalizeLabel(el.Value)]; ok {
			index[el.Key] = pos
			continue
		}
		missing = append(missing, el.Key)
	}
	return index, missing
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
