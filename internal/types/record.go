package types

// Record is one extracted result row. Every Record originates from exactly
// one (Page, Row) coordinate and carries a value for every schema field.
type Record struct {
	Page   int
	Row    int // 1-based position within the page
	Fields map[string]string
}

// NewRecord creates a Record with every schema field present and empty.
func NewRecord(schema *Schema, page, row int) Record {
	fields := make(map[string]string, schema.Len())
	for _, name := range schema.Fields() {
		fields[name] = ""
	}
	return Record{Page: page, Row: row, Fields: fields}
}

// Get returns the value of a field, empty when unset.
func (r Record) Get(field string) string {
	return r.Fields[field]
}

// Key returns the value of the schema key field.
func (r Record) Key(schema *Schema) string {
	return r.Fields[schema.KeyField()]
}

// Values returns the field values in schema order.
func (r Record) Values(schema *Schema) []string {
	names := schema.Fields()
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = r.Fields[name]
	}
	return values
}

// Page is the ordered set of Records read from one result page.
// A Page is never modified after extraction.
type Page struct {
	Number  int
	Records []Record
}

// Len returns the number of records on the page.
func (p Page) Len() int {
	return len(p.Records)
}

// Empty reports whether the page carried no rows.
func (p Page) Empty() bool {
	return len(p.Records) == 0
}
