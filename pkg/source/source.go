// Package source loads the delimited dataset that is merged into a table.
//
// The file is read with the Arrow CSV reader. Columns that also exist in the
// target schema are parsed with the target's types; every other column has
// its type inferred from the data.
package source

import (
	"bufio"
	"context"
	stdcsv "encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/formats/columnar"
	"github.com/ajitpratap0/deltaflow/pkg/logger"
	"github.com/ajitpratap0/deltaflow/pkg/metrics"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
)

const (
	DefaultPath      = "minimal.csv"
	DefaultDelimiter = ';'
	defaultChunkSize = 4096
)

// Options configures a Loader.
type Options struct {
	Path      string
	Delimiter rune
	// ColumnTypes pins the Arrow type of named columns.
	ColumnTypes map[string]arrow.DataType
	// KeyColumn must be present in the header. Defaults to __id.
	KeyColumn string
	ChunkSize int
}

// OptionsFor returns options that parse the columns of target with the
// target's types.
func OptionsFor(path string, delimiter rune, target *schema.TableSchema) Options {
	opts := Options{Path: path, Delimiter: delimiter}
	if target != nil {
		opts.ColumnTypes = target.ArrowTypes()
	}
	return opts
}

// Loader reads a delimited file into a Batch.
type Loader struct {
	opts   Options
	logger *zap.Logger
}

// NewLoader creates a loader, filling unset options with defaults.
func NewLoader(opts Options, log *zap.Logger) *Loader {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = schema.IDColumn
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Loader{
		opts:   opts,
		logger: logger.OrNop(log).With(zap.String("component", "source"), zap.String("path", opts.Path)),
	}
}

// Load reads the whole file. Any failure is reported as SourceLoadFailed.
func (l *Loader) Load(ctx context.Context) (*Batch, error) {
	f, err := os.Open(l.opts.Path)
	if err != nil {
		return nil, errors.SourceLoadFailed(l.opts.Path, err)
	}
	defer f.Close()

	batch, err := l.read(ctx, f)
	if err != nil {
		return nil, errors.SourceLoadFailed(l.opts.Path, err)
	}
	metrics.SourceRowsLoaded.Add(float64(batch.NumRows()))
	l.logger.Info("source loaded",
		zap.Int64("rows", batch.NumRows()),
		zap.Int("columns", batch.Schema().NumFields()))
	return batch, nil
}

// LoadReader reads a delimited stream, for callers that already hold the
// data. path is only used in errors.
func (l *Loader) LoadReader(ctx context.Context, r io.Reader) (*Batch, error) {
	batch, err := l.read(ctx, r)
	if err != nil {
		return nil, errors.SourceLoadFailed(l.opts.Path, err)
	}
	return batch, nil
}

func (l *Loader) read(ctx context.Context, r io.Reader) (*Batch, error) {
	mem := memory.NewGoAllocator()
	opts := []csv.Option{
		csv.WithAllocator(mem),
		csv.WithComma(l.opts.Delimiter),
		csv.WithHeader(true),
		csv.WithChunk(l.opts.ChunkSize),
		csv.WithNullReader(true, ""),
	}
	if len(l.opts.ColumnTypes) > 0 {
		opts = append(opts, csv.WithColumnTypes(l.opts.ColumnTypes))
	}
	// The header is kept aside so a file without data rows still yields
	// a schema. The inferring reader cannot start on a header alone.
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && !stderrors.Is(err, io.EOF) {
		return nil, err
	}
	batch := &Batch{path: l.opts.Path}
	empty, err := onlyBlankLines(br)
	if err != nil {
		return nil, err
	}
	if empty {
		if batch.schema, err = l.headerSchema(header); err != nil {
			return nil, err
		}
	} else if err := l.readRecords(ctx, io.MultiReader(strings.NewReader(header), br), opts, batch); err != nil {
		batch.Release()
		return nil, err
	}

	if !batch.schema.HasField(l.opts.KeyColumn) {
		batch.Release()
		return nil, fmt.Errorf("merge key column %s is missing", l.opts.KeyColumn)
	}
	return batch, nil
}

func (l *Loader) readRecords(ctx context.Context, r io.Reader, opts []csv.Option, batch *Batch) error {
	reader := csv.NewInferringReader(r, opts...)
	defer reader.Release()

	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := reader.Record()
		rec.Retain()
		batch.records = append(batch.records, rec)
		batch.rows += rec.NumRows()
	}
	if err := reader.Err(); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	if len(batch.records) == 0 {
		return fmt.Errorf("no rows after header")
	}
	batch.schema = batch.records[0].Schema()
	return nil
}

// onlyBlankLines consumes empty lines and reports whether the stream ends
// after them.
func onlyBlankLines(br *bufio.Reader) (bool, error) {
	for {
		b, err := br.Peek(1)
		if stderrors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if b[0] != '\n' && b[0] != '\r' {
			return false, nil
		}
		if _, err := br.ReadByte(); err != nil {
			return false, err
		}
	}
}

// headerSchema builds the schema of a file that has a header but no rows.
// Columns without a pinned type are nullable strings.
func (l *Loader) headerSchema(header string) (*arrow.Schema, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("no header row")
	}
	cr := stdcsv.NewReader(strings.NewReader(header))
	cr.Comma = l.opts.Delimiter
	names, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("invalid header row: %w", err)
	}
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		dt, ok := l.opts.ColumnTypes[name]
		if !ok {
			dt = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// Batch is an in-memory set of Arrow records sharing one schema.
type Batch struct {
	path    string
	schema  *arrow.Schema
	records []arrow.Record
	rows    int64
}

// NewBatch wraps records that share schema. The batch takes ownership of
// one reference to each record.
func NewBatch(schema *arrow.Schema, records ...arrow.Record) *Batch {
	b := &Batch{schema: schema, records: records}
	for _, r := range records {
		b.rows += r.NumRows()
	}
	return b
}

// Path returns the file the batch was loaded from, if any.
func (b *Batch) Path() string { return b.path }

// Schema returns the schema shared by all records.
func (b *Batch) Schema() *arrow.Schema { return b.schema }

// Records returns the records without retaining them.
func (b *Batch) Records() []arrow.Record { return b.records }

// NumRows returns the total row count.
func (b *Batch) NumRows() int64 { return b.rows }

// Rows converts the batch to rows.
func (b *Batch) Rows() []columnar.Row {
	out := make([]columnar.Row, 0, b.rows)
	for _, rec := range b.records {
		out = append(out, columnar.RecordRows(rec)...)
	}
	return out
}

// Head returns at most n rows.
func (b *Batch) Head(n int) []columnar.Row {
	out := make([]columnar.Row, 0, n)
	for _, rec := range b.records {
		if len(out) >= n {
			break
		}
		rows := columnar.RecordRows(rec)
		if remaining := n - len(out); len(rows) > remaining {
			rows = rows[:remaining]
		}
		out = append(out, rows...)
	}
	return out
}

// Release drops the batch's references to its records.
func (b *Batch) Release() {
	for _, r := range b.records {
		r.Release()
	}
	b.records = nil
}
