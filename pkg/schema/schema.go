// Package schema defines the column layout of deltaflow tables.
//
// A TableSchema is an ordered list of typed fields. The workflow always
// provisions tables with Default, whose three reserved columns carry the
// record identity and its lifecycle timestamps:
//
//	__id         string    NOT NULL  merge key
//	__createdat  timestamp NOT NULL  set once on insert
//	__updatedat  timestamp NOT NULL  refreshed on every update
//
// Schemas convert to Arrow schemas for data files and to the JSON
// schemaString stored in table metadata.
package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

// Reserved column names.
const (
	IDColumn        = "__id"
	CreatedAtColumn = "__createdat"
	UpdatedAtColumn = "__updatedat"
)

// ReservedColumns lists the columns every table and every merged result carries.
var ReservedColumns = []string{IDColumn, CreatedAtColumn, UpdatedAtColumn}

// PrimitiveType is a column type as recorded in table metadata.
type PrimitiveType string

const (
	TypeString    PrimitiveType = "string"
	TypeLong      PrimitiveType = "long"
	TypeInteger   PrimitiveType = "integer"
	TypeDouble    PrimitiveType = "double"
	TypeBoolean   PrimitiveType = "boolean"
	TypeTimestamp PrimitiveType = "timestamp"
	TypeDate      PrimitiveType = "date"
)

// Valid reports whether t is a supported primitive type.
func (t PrimitiveType) Valid() bool {
	switch t {
	case TypeString, TypeLong, TypeInteger, TypeDouble, TypeBoolean, TypeTimestamp, TypeDate:
		return true
	}
	return false
}

// Field is one column of a table.
type Field struct {
	Name     string
	Type     PrimitiveType
	Nullable bool
	Metadata map[string]string
}

// String renders the field in DDL form.
func (f Field) String() string {
	if f.Nullable {
		return fmt.Sprintf("%s %s", f.Name, f.Type)
	}
	return fmt.Sprintf("%s %s NOT NULL", f.Name, f.Type)
}

// TableSchema is an ordered, name-unique list of fields.
type TableSchema struct {
	fields []Field
	index  map[string]int
}

// New builds a schema, rejecting empty or duplicate names and unknown types.
func New(fields ...Field) (*TableSchema, error) {
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "schema must have at least one field")
	}
	s := &TableSchema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "field %d has an empty name", i)
		}
		if !f.Type.Valid() {
			return nil, errors.Newf(errors.ErrorTypeValidation, "field %s has unsupported type %q", f.Name, f.Type)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation, "duplicate field name %s", f.Name)
		}
		s.index[f.Name] = i
		s.fields[i] = f
	}
	return s, nil
}

// MustNew is New that panics; for package-level constants.
func MustNew(fields ...Field) *TableSchema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

var defaultSchema = MustNew(
	Field{Name: IDColumn, Type: TypeString},
	Field{Name: CreatedAtColumn, Type: TypeTimestamp},
	Field{Name: UpdatedAtColumn, Type: TypeTimestamp},
)

// Default returns the schema every provisioned table starts with.
func Default() *TableSchema {
	return defaultSchema
}

// Fields returns a copy of the fields in order.
func (s *TableSchema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Len returns the number of fields.
func (s *TableSchema) Len() int { return len(s.fields) }

// Field returns the field at position i.
func (s *TableSchema) Field(i int) Field { return s.fields[i] }

// Lookup returns the field called name.
func (s *TableSchema) Lookup(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Index returns the position of name, or -1.
func (s *TableSchema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Names returns the field names in order.
func (s *TableSchema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// ValidateReserved checks the reserved columns are present, non-nullable
// and correctly typed.
func (s *TableSchema) ValidateReserved() error {
	want := map[string]PrimitiveType{
		IDColumn:        TypeString,
		CreatedAtColumn: TypeTimestamp,
		UpdatedAtColumn: TypeTimestamp,
	}
	for _, name := range ReservedColumns {
		f, ok := s.Lookup(name)
		if !ok {
			return errors.Newf(errors.ErrorTypeValidation, "schema is missing reserved column %s", name)
		}
		if f.Type != want[name] || f.Nullable {
			return errors.Newf(errors.ErrorTypeValidation, "reserved column must be %s %s NOT NULL, got %s", name, want[name], f)
		}
	}
	return nil
}

// Equal reports whether both schemas have the same fields in the same order.
func (s *TableSchema) Equal(other *TableSchema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		a, b := s.fields[i], other.fields[i]
		if a.Name != b.Name || a.Type != b.Type || a.Nullable != b.Nullable {
			return false
		}
	}
	return true
}

// String renders the schema as a comma separated DDL list.
func (s *TableSchema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}
