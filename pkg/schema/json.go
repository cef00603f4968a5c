package schema

import (
	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/json"
)

type structType struct {
	Type   string        `json:"type"`
	Fields []structField `json:"fields"`
}

type structField struct {
	Name     string            `json:"name"`
	Type     PrimitiveType     `json:"type"`
	Nullable bool              `json:"nullable"`
	Metadata map[string]string `json:"metadata"`
}

// MarshalJSON encodes the schema as a struct type, the layout stored in the
// schemaString of table metadata.
func (s *TableSchema) MarshalJSON() ([]byte, error) {
	st := structType{Type: "struct", Fields: make([]structField, len(s.fields))}
	for i, f := range s.fields {
		md := f.Metadata
		if md == nil {
			md = map[string]string{}
		}
		st.Fields[i] = structField{Name: f.Name, Type: f.Type, Nullable: f.Nullable, Metadata: md}
	}
	return json.Marshal(st)
}

// UnmarshalJSON decodes a struct type schema.
func (s *TableSchema) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// SchemaString returns the JSON encoding of the schema.
func (s *TableSchema) SchemaString() (string, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode schema")
	}
	return string(data), nil
}

// Parse decodes a schemaString.
func Parse(schemaString string) (*TableSchema, error) {
	var st structType
	if err := json.Unmarshal([]byte(schemaString), &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode schema")
	}
	if st.Type != "struct" {
		return nil, errors.Newf(errors.ErrorTypeData, "schema root must be a struct, got %q", st.Type)
	}
	fields := make([]Field, len(st.Fields))
	for i, f := range st.Fields {
		fields[i] = Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
		// "metadata": {} is written for every field; keep nil for the empty case.
		if len(f.Metadata) > 0 {
			fields[i].Metadata = f.Metadata
		}
	}
	return New(fields...)
}
