package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/formats/columnar"
	"github.com/ajitpratap0/deltaflow/pkg/observability"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
	"github.com/ajitpratap0/deltaflow/pkg/table"
)

// Execute runs the merge and commits the result as one new version.
//
// Errors are AmbiguousMatch when a key is matched by more than one row on
// either side, ConcurrentModification when another writer committed first,
// and MergeExecutionFailed for anything else. A merge that changes no row
// commits nothing and returns the input table.
func (b *Builder) Execute(ctx context.Context) (*Outcome, error) {
	if err := b.validate(); err != nil {
		return nil, errors.MergeExecutionFailed(err)
	}

	ctx, span := observability.StartSpan(ctx, "merge.execute",
		attribute.String("table.location", b.table.Location().String()),
		attribute.Int64("table.version", b.table.Version()),
		attribute.Int64("merge.source_rows", b.source.NumRows()))
	out, err := b.execute(ctx)
	observability.EndSpan(span, err)
	return out, err
}

type targetFile struct {
	add     table.Add
	rows    []columnar.Row
	touched bool
	// deleted and updated are indexed by row position.
	deleted map[int]bool
	updated map[int]columnar.Row
}

type rowRef struct {
	file, row int
}

func (b *Builder) execute(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	log := b.log()
	now := b.clock()().UTC()
	target := b.table.Schema()

	key, err := b.predicate.resolve(b.sourceAlias)
	if err != nil {
		return nil, errors.MergeExecutionFailed(err)
	}
	if err := b.checkColumns(key, target); err != nil {
		return nil, errors.MergeExecutionFailed(err)
	}

	m := Metrics{NumSourceRows: b.source.NumRows()}
	log.Info("merge started",
		zap.Int64("version", b.table.Version()),
		zap.Int64("source_rows", m.NumSourceRows),
		zap.Any("clauses", b.Describe()))

	// scan
	scanStart := time.Now()
	targetTypes := target.ArrowTypes()
	srcRows := b.source.Rows()
	srcIndex := make(map[string]int, len(srcRows))
	for i, row := range srcRows {
		k, display, err := rowKey(row, key.source, key.target, targetTypes)
		if err != nil {
			return nil, errors.MergeExecutionFailedf("source row %d: %v", i, err)
		}
		if _, dup := srcIndex[k]; dup {
			return nil, errors.AmbiguousMatch(display)
		}
		srcIndex[k] = i
	}

	files := make([]*targetFile, 0, len(b.table.Files()))
	matchedBy := make(map[string]rowRef)
	for fi, add := range b.table.Files() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := b.table.ReadDataFile(ctx, add.Path)
		if err != nil {
			return nil, errors.MergeExecutionFailed(err)
		}
		tf := &targetFile{add: add, rows: rows, deleted: map[int]bool{}, updated: map[int]columnar.Row{}}
		files = append(files, tf)
		for ri, row := range rows {
			k, display, err := rowKey(row, key.target, key.target, targetTypes)
			if err != nil {
				// rows with a null key match nothing
				continue
			}
			if _, ok := srcIndex[k]; !ok {
				continue
			}
			if _, dup := matchedBy[k]; dup {
				return nil, errors.AmbiguousMatch(display)
			}
			matchedBy[k] = rowRef{file: fi, row: ri}
		}
	}
	m.ScanTimeMs = time.Since(scanStart).Milliseconds()

	// plan
	rewriteStart := time.Now()
	var inserts []columnar.Row
	for i, src := range srcRows {
		k, _, _ := rowKey(src, key.source, key.target, targetTypes)
		ref, matched := matchedBy[k]
		if !matched {
			if !b.notMatched {
				continue
			}
			row, err := b.insertRow(src, target, now)
			if err != nil {
				return nil, errors.MergeExecutionFailedf("source row %d: %v", i, err)
			}
			inserts = append(inserts, row)
			m.NumTargetRowsInserted++
			continue
		}

		m.NumTargetRowsMatched++
		if b.matched == nil {
			continue
		}
		tf := files[ref.file]
		switch b.matched.kind {
		case deleteMatched:
			tf.deleted[ref.row] = true
			m.NumTargetRowsDeleted++
		default:
			row, err := b.updateRow(tf.rows[ref.row], src, target, now)
			if err != nil {
				return nil, errors.MergeExecutionFailedf("source row %d: %v", i, err)
			}
			tf.updated[ref.row] = row
			m.NumTargetRowsUpdated++
		}
		tf.touched = true
	}

	if b.bySource == Delete {
		for fi, tf := range files {
			for ri, row := range tf.rows {
				k, _, err := rowKey(row, key.target, key.target, targetTypes)
				if err == nil {
					if ref, ok := matchedBy[k]; ok && ref.file == fi && ref.row == ri {
						continue
					}
				}
				tf.deleted[ri] = true
				tf.touched = true
				m.NumTargetRowsDeleted++
			}
		}
	}

	if !m.Changed() {
		m.RewriteTimeMs = time.Since(rewriteStart).Milliseconds()
		m.ExecutionTimeMs = time.Since(start).Milliseconds()
		log.Info("merge changed no rows, nothing committed", m.field())
		return &Outcome{Table: b.table, Metrics: m}, nil
	}

	// rewrite
	var output []columnar.Row
	var actions []table.Action
	deletionTime := now.UnixMilli()
	for _, tf := range files {
		if !tf.touched {
			continue
		}
		for ri, row := range tf.rows {
			if tf.deleted[ri] {
				continue
			}
			if up, ok := tf.updated[ri]; ok {
				output = append(output, up)
				continue
			}
			output = append(output, row)
			m.NumTargetRowsCopied++
		}
		actions = append(actions, table.Action{Remove: &table.Remove{
			Path:              tf.add.Path,
			DeletionTimestamp: deletionTime,
			DataChange:        true,
			Size:              tf.add.Size,
		}})
		m.NumTargetFilesRemoved++
	}
	output = append(output, inserts...)
	m.NumOutputRows = int64(len(output))

	if len(output) > 0 {
		add, err := b.table.WriteDataFile(ctx, output, len(b.table.Files()))
		if err != nil {
			return nil, errors.MergeExecutionFailed(err)
		}
		actions = append(actions, table.Action{Add: &add})
		m.NumTargetFilesAdded++
	}
	m.RewriteTimeMs = time.Since(rewriteStart).Milliseconds()
	m.ExecutionTimeMs = time.Since(start).Milliseconds()

	params := b.Describe()
	next, err := b.table.Commit(ctx, actions, table.CommitInfo{
		Operation:           table.OperationMerge,
		OperationParameters: params,
		OperationMetrics:    m.operationMetrics(),
	})
	if err != nil {
		if errors.Is(err, errors.ErrConcurrentModification) {
			return nil, err
		}
		return nil, errors.MergeExecutionFailed(err)
	}
	m.ExecutionTimeMs = time.Since(start).Milliseconds()
	m.record()

	log.Info("merge committed", zap.Int64("version", next.Version()), m.field())
	return &Outcome{Table: next, Metrics: m}, nil
}

// checkColumns verifies every column the merge references exists.
func (b *Builder) checkColumns(key joinKey, target *schema.TableSchema) error {
	src := b.source.Schema()
	for i := range key.target {
		if target.Index(key.target[i]) < 0 {
			return fmt.Errorf("predicate column %s is not in the target table", key.target[i])
		}
		if !src.HasField(key.source[i]) {
			return fmt.Errorf("predicate column %s.%s is not in the source", b.sourceAlias, key.source[i])
		}
	}
	if b.matched != nil && b.matched.kind == updateColumns {
		for _, c := range b.matched.columns {
			if target.Index(c) < 0 {
				return fmt.Errorf("update column %s is not in the target table", c)
			}
			if !src.HasField(c) {
				return fmt.Errorf("update column %s is not in the source", c)
			}
		}
	}
	return nil
}

// rowKey builds the composite join key of row from cols, coercing each value
// to the type of the paired target column so both sides compare equal.
func rowKey(row columnar.Row, cols, targetCols []string, types map[string]arrow.DataType) (string, string, error) {
	parts := make([]string, len(cols))
	display := make([]string, len(cols))
	for i, c := range cols {
		v, err := columnar.Coerce(row[c], types[targetCols[i]])
		if err != nil {
			return "", "", fmt.Errorf("merge key %s: %w", c, err)
		}
		if v == nil {
			return "", "", fmt.Errorf("merge key %s is null", c)
		}
		parts[i] = columnar.KeyString(v)
		display[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f"), strings.Join(display, ","), nil
}

// insertRow projects a source row onto the target schema. Lifecycle
// timestamps the source leaves empty take the merge time.
func (b *Builder) insertRow(src columnar.Row, target *schema.TableSchema, now time.Time) (columnar.Row, error) {
	row := make(columnar.Row, target.Len())
	types := target.ArrowTypes()
	for _, f := range target.Fields() {
		v, err := columnar.Coerce(src[f.Name], types[f.Name])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		row[f.Name] = v
	}
	for _, c := range []string{schema.CreatedAtColumn, schema.UpdatedAtColumn} {
		if _, ok := target.Lookup(c); ok && row[c] == nil {
			row[c] = now
		}
	}
	return row, checkNotNull(row, target)
}

// updateRow applies the matched update clause. __id and __createdat keep
// their target values; __updatedat takes the source value when the clause
// sets it and the source has one, and the merge time otherwise.
func (b *Builder) updateRow(current, src columnar.Row, target *schema.TableSchema, now time.Time) (columnar.Row, error) {
	row := current.Clone()
	types := target.ArrowTypes()

	var cols []string
	if b.matched.kind == updateAll {
		for _, f := range target.Fields() {
			if b.source.Schema().HasField(f.Name) {
				cols = append(cols, f.Name)
			}
		}
	} else {
		cols = b.matched.columns
	}

	updatedSet := false
	for _, c := range cols {
		if c == schema.IDColumn || c == schema.CreatedAtColumn {
			continue
		}
		v, err := columnar.Coerce(src[c], types[c])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		if c == schema.UpdatedAtColumn {
			if v == nil {
				continue
			}
			updatedSet = true
		}
		row[c] = v
	}
	if _, ok := target.Lookup(schema.UpdatedAtColumn); ok && !updatedSet {
		row[schema.UpdatedAtColumn] = now
	}
	return row, checkNotNull(row, target)
}

func checkNotNull(row columnar.Row, target *schema.TableSchema) error {
	for _, f := range target.Fields() {
		if !f.Nullable && row[f.Name] == nil {
			return fmt.Errorf("column %s is NOT NULL but has no value", f.Name)
		}
	}
	return nil
}
