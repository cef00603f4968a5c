package columnar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// EncodeParquet writes rows to an in-memory Parquet file. The Arrow schema
// is stored in the file metadata so timestamp zones survive a round trip.
func EncodeParquet(schema *arrow.Schema, rows []Row, config *WriterConfig) ([]byte, error) {
	if config == nil {
		config = DefaultWriterConfig()
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	pool := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(getParquetCompression(config.Compression)),
		parquet.WithDictionaryDefault(config.Dictionary),
		parquet.WithMaxRowGroupLength(config.RowGroupSize),
		parquet.WithAllocator(pool),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(pool),
		pqarrow.WithStoreSchema(),
	)

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(schema, &buf, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		rec, err := BuildRecord(pool, schema, rows[start:end])
		if err != nil {
			fw.Close()
			return nil, err
		}
		err = fw.WriteBuffered(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to write record batch: %w", err)
		}
	}

	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads every row of a Parquet file.
func DecodeParquet(ctx context.Context, data []byte) (*arrow.Schema, []Row, error) {
	fr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Parquet reader: %w", err)
	}
	defer fr.Close()

	pool := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{BatchSize: 10000}, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get Arrow schema: %w", err)
	}

	rr, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record reader: %w", err)
	}
	defer rr.Release()

	rows := make([]Row, 0, fr.NumRows())
	for rr.Next() {
		rows = append(rows, RecordRows(rr.Record())...)
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("failed to read Parquet rows: %w", err)
	}
	return schema, rows, nil
}
