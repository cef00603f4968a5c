package schema

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

// TimestampType is the Arrow type of timestamp columns: microseconds, UTC.
var TimestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// ArrowType maps a primitive type to its Arrow data type.
func ArrowType(t PrimitiveType) (arrow.DataType, error) {
	switch t {
	case TypeString:
		return arrow.BinaryTypes.String, nil
	case TypeLong:
		return arrow.PrimitiveTypes.Int64, nil
	case TypeInteger:
		return arrow.PrimitiveTypes.Int32, nil
	case TypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case TypeTimestamp:
		return TimestampType, nil
	case TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported field type: %s", t)
	}
}

// FromArrowType maps an Arrow data type back to a primitive type.
func FromArrowType(dt arrow.DataType) (PrimitiveType, error) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return TypeString, nil
	case arrow.INT64:
		return TypeLong, nil
	case arrow.INT8, arrow.INT16, arrow.INT32:
		return TypeInteger, nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return TypeDouble, nil
	case arrow.BOOL:
		return TypeBoolean, nil
	case arrow.TIMESTAMP:
		return TypeTimestamp, nil
	case arrow.DATE32, arrow.DATE64:
		return TypeDate, nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "unsupported arrow type: %s", dt)
	}
}

// ToArrow converts the schema to an Arrow schema.
func (s *TableSchema) ToArrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.fields))
	for i, f := range s.fields {
		// types were validated by New
		dt, _ := ArrowType(f.Type)
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// ArrowTypes returns the Arrow type of every column keyed by name.
func (s *TableSchema) ArrowTypes() map[string]arrow.DataType {
	out := make(map[string]arrow.DataType, len(s.fields))
	for _, f := range s.fields {
		dt, _ := ArrowType(f.Type)
		out[f.Name] = dt
	}
	return out
}

// FromArrow converts an Arrow schema into a TableSchema.
func FromArrow(as *arrow.Schema) (*TableSchema, error) {
	fields := make([]Field, 0, as.NumFields())
	for _, af := range as.Fields() {
		t, err := FromArrowType(af.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "field "+af.Name)
		}
		fields = append(fields, Field{Name: af.Name, Type: t, Nullable: af.Nullable})
	}
	return New(fields...)
}
