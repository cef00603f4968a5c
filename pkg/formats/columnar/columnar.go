// Package columnar converts between row values and Arrow/Parquet data.
//
// A Row maps column names to canonical Go values:
//
//	string     string columns
//	int64      long columns
//	int32      integer columns
//	float64    double columns
//	bool       boolean columns
//	time.Time  timestamp and date columns, always UTC
//	nil        null
//
// Table data files are Parquet; EncodeParquet and DecodeParquet move rows in
// and out of them, while BuildRecord and RecordRows bridge Arrow records.
package columnar

import (
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"
)

// Format names a data file format as recorded in table metadata.
type Format string

// Parquet is the only data file format tables are written in.
const Parquet Format = "parquet"

// Row is one record keyed by column name.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WriterConfig configures Parquet encoding.
type WriterConfig struct {
	Compression  string
	BatchSize    int
	RowGroupSize int64
	Dictionary   bool
}

// DefaultWriterConfig returns default writer configuration
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		Compression:  "snappy",
		BatchSize:    10000,
		RowGroupSize: 1024 * 1024,
		Dictionary:   true,
	}
}

func getParquetCompression(name string) compress.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "brotli":
		return compress.Codecs.Brotli
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}
