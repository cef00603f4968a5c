package columnar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// BuildRecord builds an Arrow record from rows. Values are coerced to the
// column types; a null in a non-nullable column is an error.
func BuildRecord(mem memory.Allocator, schema *arrow.Schema, rows []Row) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for r, row := range rows {
		for i, field := range schema.Fields() {
			v, err := Coerce(row[field.Name], field.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, field.Name, err)
			}
			if v == nil && !field.Nullable {
				return nil, fmt.Errorf("row %d column %s: null in non-nullable column", r, field.Name)
			}
			if err := appendArrowValue(b.Field(i), v); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, field.Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

// RecordRows converts every row of rec.
func RecordRows(rec arrow.Record) []Row {
	n := int(rec.NumRows())
	rows := make([]Row, n)
	schema := rec.Schema()
	for r := 0; r < n; r++ {
		row := make(Row, rec.NumCols())
		for c := 0; c < int(rec.NumCols()); c++ {
			row[schema.Field(c).Name] = getArrowColumnValue(rec.Column(c), r)
		}
		rows[r] = row
	}
	return rows
}

func appendArrowValue(builder array.Builder, value interface{}) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		b.Append(value.(bool))
	case *array.Int32Builder:
		b.Append(value.(int32))
	case *array.Int64Builder:
		b.Append(value.(int64))
	case *array.Float64Builder:
		b.Append(value.(float64))
	case *array.StringBuilder:
		b.Append(value.(string))
	case *array.TimestampBuilder:
		unit := b.Type().(*arrow.TimestampType).Unit
		ts, err := arrow.TimestampFromTime(value.(time.Time), unit)
		if err != nil {
			return err
		}
		b.Append(ts)
	case *array.Date32Builder:
		b.Append(arrow.Date32FromTime(value.(time.Time)))
	default:
		return fmt.Errorf("unsupported builder type: %T", builder)
	}
	return nil
}

func getArrowColumnValue(col arrow.Array, rowIdx int) interface{} {
	if col.IsNull(rowIdx) {
		return nil
	}

	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(rowIdx)
	case *array.Int8:
		return int32(c.Value(rowIdx))
	case *array.Int16:
		return int32(c.Value(rowIdx))
	case *array.Int32:
		return c.Value(rowIdx)
	case *array.Int64:
		return c.Value(rowIdx)
	case *array.Float32:
		return float64(c.Value(rowIdx))
	case *array.Float64:
		return c.Value(rowIdx)
	case *array.String:
		return c.Value(rowIdx)
	case *array.LargeString:
		return c.Value(rowIdx)
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(rowIdx).ToTime(unit).UTC()
	case *array.Date32:
		return c.Value(rowIdx).ToTime().UTC()
	case *array.Date64:
		return c.Value(rowIdx).ToTime().UTC()
	default:
		return col.ValueStr(rowIdx)
	}
}

// Coerce converts v to the canonical Go value for dt. Lossless numeric
// widening and string parsing are applied; anything else is an error.
func Coerce(v interface{}, dt arrow.DataType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprintf("%v", x), nil
		}

	case arrow.INT64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("cannot store %v in a long column", x)
			}
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as long", x)
			}
			return n, nil
		}

	case arrow.INT32:
		switch x := v.(type) {
		case int32:
			return x, nil
		case int64:
			if x < math.MinInt32 || x > math.MaxInt32 {
				return nil, fmt.Errorf("%d overflows an integer column", x)
			}
			return int32(x), nil
		case int:
			if x < math.MinInt32 || x > math.MaxInt32 {
				return nil, fmt.Errorf("%d overflows an integer column", x)
			}
			return int32(x), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as integer", x)
			}
			return int32(n), nil
		}

	case arrow.FLOAT64, arrow.FLOAT32:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as double", x)
			}
			return f, nil
		}

	case arrow.BOOL:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as boolean", x)
			}
			return b, nil
		}

	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		switch x := v.(type) {
		case time.Time:
			if dt.ID() != arrow.TIMESTAMP {
				y, m, d := x.UTC().Date()
				return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
			}
			return x.UTC(), nil
		case string:
			t, err := ParseTime(x)
			if err != nil {
				return nil, err
			}
			return Coerce(t, dt)
		}

	default:
		return nil, fmt.Errorf("unsupported column type %s", dt)
	}
	return nil, fmt.Errorf("cannot store %T in a %s column", v, dt)
}

// ParseTime parses the timestamp layouts accepted in source files. Values
// without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", s)
}

// KeyString renders a canonical value for use in a composite join key.
func KeyString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "\x00null"
	case string:
		return "s:" + x
	case time.Time:
		return "t:" + strconv.FormatInt(x.UnixMicro(), 10)
	case int32:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%T:%v", x, x)
	}
}

// Equal reports whether two canonical values are equal.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return KeyString(a) == KeyString(b)
}
