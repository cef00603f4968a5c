package merge

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/formats/columnar"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
	"github.com/ajitpratap0/deltaflow/pkg/source"
	"github.com/ajitpratap0/deltaflow/pkg/storage"
	"github.com/ajitpratap0/deltaflow/pkg/table"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

var sourceSchema = arrow.NewSchema([]arrow.Field{
	{Name: "__id", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "__createdat", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, Nullable: true},
	{Name: "__updatedat", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, Nullable: true},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "extra", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}, nil)

func targetSchema() *schema.TableSchema {
	return schema.MustNew(append(schema.Default().Fields(),
		schema.Field{Name: "name", Type: schema.TypeString, Nullable: true})...)
}

func newTable(t *testing.T) *table.Table {
	t.Helper()
	store := storage.NewMemoryStore("lake")
	tbl, err := table.Create(context.Background(), store, table.NewLocation("lake", table.DefaultPrefix),
		targetSchema(), table.ErrorIfExists, table.WithClock(func() time.Time { return t2 }))
	require.NoError(t, err)
	return tbl
}

func batch(t *testing.T, rows ...columnar.Row) *source.Batch {
	t.Helper()
	rec, err := columnar.BuildRecord(nil, sourceSchema, rows)
	require.NoError(t, err)
	return source.NewBatch(sourceSchema, rec)
}

func src(id, name string, created time.Time) columnar.Row {
	return columnar.Row{"__id": id, "__createdat": created, "__updatedat": created, "name": name, "extra": int64(7)}
}

func upsert(tbl *table.Table, b *source.Batch) *Builder {
	return New(tbl, b).
		On(Eq("__id", "source.__id")).
		WhenMatchedUpdateAll().
		WhenNotMatchedInsertAll()
}

func rowsByID(t *testing.T, tbl *table.Table) map[string]columnar.Row {
	t.Helper()
	rows, err := tbl.Rows(context.Background())
	require.NoError(t, err)
	out := make(map[string]columnar.Row, len(rows))
	for _, r := range rows {
		out[r["__id"].(string)] = r
	}
	return out
}

func ids(m map[string]columnar.Row) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t)

	first, err := upsert(tbl, batch(t, src("a", "alpha", t0))).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Table.Version())
	assert.Equal(t, int64(1), first.Metrics.NumTargetRowsInserted)
	assert.Equal(t, int64(0), first.Metrics.NumTargetRowsUpdated)

	second, err := upsert(first.Table, batch(t, src("a", "alpha2", t1), src("b", "beta", t1))).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Table.Version())
	m := second.Metrics
	assert.Equal(t, int64(2), m.NumSourceRows)
	assert.Equal(t, int64(1), m.NumTargetRowsUpdated)
	assert.Equal(t, int64(1), m.NumTargetRowsInserted)
	assert.Equal(t, int64(1), m.NumTargetRowsMatched)
	assert.Equal(t, int64(1), m.NumTargetFilesRemoved)
	assert.Equal(t, int64(1), m.NumTargetFilesAdded)
	assert.Equal(t, int64(2), m.NumOutputRows)

	rows := rowsByID(t, second.Table)
	assert.Equal(t, []string{"a", "b"}, ids(rows))
	assert.Equal(t, "alpha2", rows["a"]["name"])
	assert.NotContains(t, rows["a"], "extra")
	assert.Len(t, second.Table.Files(), 1)

	info := second.Table.History()[0]
	assert.Equal(t, table.OperationMerge, info.Operation)
	assert.Equal(t, "1", info.OperationMetrics["numTargetRowsUpdated"])
	assert.Equal(t, "__id = source.__id", info.OperationParameters["predicate"])
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	first, err := upsert(newTable(t), batch(t, src("a", "alpha", t0))).Execute(ctx)
	require.NoError(t, err)

	second, err := upsert(first.Table, batch(t, src("a", "alpha", t1))).Execute(ctx)
	require.NoError(t, err)

	row := rowsByID(t, second.Table)["a"]
	assert.True(t, t0.Equal(row["__createdat"].(time.Time)))
	assert.True(t, t1.Equal(row["__updatedat"].(time.Time)))
}

func TestUpdateWithoutSourceTimestampUsesMergeTime(t *testing.T) {
	ctx := context.Background()
	first, err := upsert(newTable(t), batch(t, src("a", "alpha", t0))).Execute(ctx)
	require.NoError(t, err)

	r := src("a", "renamed", t0)
	r["__updatedat"] = nil
	second, err := New(first.Table, batch(t, r)).
		On(Eq("__id", "source.__id")).
		WhenMatchedUpdate("name", "__updatedat").
		WithClock(func() time.Time { return t2 }).
		Execute(ctx)
	require.NoError(t, err)

	row := rowsByID(t, second.Table)["a"]
	assert.Equal(t, "renamed", row["name"])
	assert.True(t, t2.Equal(row["__updatedat"].(time.Time)))
}

func TestInsertDefaultsLifecycleColumns(t *testing.T) {
	r := columnar.Row{"__id": "a", "name": "alpha"}
	out, err := New(newTable(t), batch(t, r)).
		On(Eq("__id", "source.__id")).
		WhenNotMatchedInsertAll().
		Execute(context.Background())
	require.NoError(t, err)

	row := rowsByID(t, out.Table)["a"]
	assert.True(t, t2.Equal(row["__createdat"].(time.Time)))
	assert.True(t, t2.Equal(row["__updatedat"].(time.Time)))
}

func TestEmptySourceCommitsNothing(t *testing.T) {
	tbl := newTable(t)
	out, err := upsert(tbl, batch(t)).Execute(context.Background())
	require.NoError(t, err)
	assert.Same(t, tbl, out.Table)
	assert.False(t, out.Metrics.Changed())

	latest, err := tbl.LatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)
}

func TestDuplicateSourceKeyIsAmbiguous(t *testing.T) {
	_, err := upsert(newTable(t), batch(t, src("a", "x", t0), src("a", "y", t0))).Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAmbiguousMatch)
}

func TestNullSourceKeyFails(t *testing.T) {
	r := src("a", "x", t0)
	r["__id"] = nil
	_, err := upsert(newTable(t), batch(t, r)).Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMergeExecutionFailed)
	assert.Contains(t, err.Error(), "null")
}

func TestConcurrentMergeLoses(t *testing.T) {
	ctx := context.Background()
	base := newTable(t)

	_, err := upsert(base, batch(t, src("a", "x", t0))).Execute(ctx)
	require.NoError(t, err)

	_, err = upsert(base, batch(t, src("b", "y", t0))).Execute(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConcurrentModification)
	assert.Equal(t, errors.CodeConcurrentModification, errors.CodeOf(err))
}

func TestMatchedDelete(t *testing.T) {
	ctx := context.Background()
	first, err := upsert(newTable(t), batch(t, src("a", "x", t0), src("b", "y", t0))).Execute(ctx)
	require.NoError(t, err)

	out, err := New(first.Table, batch(t, src("a", "", t1))).
		On(Eq("target.__id", "source.__id")).
		WhenMatchedDelete().
		Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Metrics.NumTargetRowsDeleted)
	assert.Equal(t, int64(1), out.Metrics.NumTargetRowsCopied)
	assert.Equal(t, []string{"b"}, ids(rowsByID(t, out.Table)))
}

func TestNotMatchedBySourceDelete(t *testing.T) {
	ctx := context.Background()
	first, err := upsert(newTable(t), batch(t, src("a", "x", t0), src("b", "y", t0))).Execute(ctx)
	require.NoError(t, err)

	out, err := upsert(first.Table, batch(t, src("b", "y2", t1), src("c", "z", t1))).
		WhenNotMatchedBySource(Delete).
		Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Metrics.NumTargetRowsDeleted)
	assert.Equal(t, []string{"b", "c"}, ids(rowsByID(t, out.Table)))
}

func TestDeleteEverythingLeavesNoFiles(t *testing.T) {
	ctx := context.Background()
	first, err := upsert(newTable(t), batch(t, src("a", "x", t0))).Execute(ctx)
	require.NoError(t, err)

	out, err := New(first.Table, batch(t)).
		On(Eq("__id", "source.__id")).
		WhenNotMatchedBySource(Delete).
		Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Table.Version())
	assert.Empty(t, out.Table.Files())
	assert.Equal(t, int64(0), out.Metrics.NumTargetFilesAdded)
}

func TestSourceAlias(t *testing.T) {
	out, err := New(newTable(t), batch(t, src("a", "x", t0))).
		On(Eq("__id", "s.__id")).
		WithSourceAlias("s").
		WhenNotMatchedInsertAll().
		Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Metrics.NumTargetRowsInserted)
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		build  func(*Builder) *Builder
		errMsg string
	}{
		{
			name:   "no clauses",
			build:  func(b *Builder) *Builder { return b.On(Eq("__id", "source.__id")) },
			errMsg: "no when-matched",
		},
		{
			name:   "no predicate",
			build:  func(b *Builder) *Builder { return b.WhenNotMatchedInsertAll() },
			errMsg: "predicate is not set",
		},
		{
			name: "unqualified source column",
			build: func(b *Builder) *Builder {
				return b.On(Eq("__id", "__id")).WhenNotMatchedInsertAll()
			},
			errMsg: "must be qualified",
		},
		{
			name: "wrong alias",
			build: func(b *Builder) *Builder {
				return b.On(Eq("__id", "src.__id")).WhenNotMatchedInsertAll()
			},
			errMsg: "unknown alias",
		},
		{
			name: "invalid alias",
			build: func(b *Builder) *Builder {
				return b.On(Eq("__id", "source.__id")).WithSourceAlias("a.b").WhenNotMatchedInsertAll()
			},
			errMsg: "invalid source alias",
		},
		{
			name: "matched clause twice",
			build: func(b *Builder) *Builder {
				return b.On(Eq("__id", "source.__id")).WhenMatchedUpdateAll().WhenMatchedDelete()
			},
			errMsg: "already set",
		},
		{
			name: "unknown target column",
			build: func(b *Builder) *Builder {
				return b.On(Eq("missing", "source.__id")).WhenNotMatchedInsertAll()
			},
			errMsg: "not in the target table",
		},
		{
			name: "unknown update column",
			build: func(b *Builder) *Builder {
				return b.On(Eq("__id", "source.__id")).WhenMatchedUpdate("nope")
			},
			errMsg: "update column nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build(New(newTable(t), batch(t, src("a", "x", t0)))).Execute(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMergeExecutionFailed)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPredicateString(t *testing.T) {
	p := Eq("__id", "source.__id").And(Eq("target.name", "source.name"))
	assert.Equal(t, "__id = source.__id AND target.name = source.name", p.String())
	assert.Len(t, p.Conditions(), 2)

	k, err := p.resolve("source")
	require.NoError(t, err)
	assert.Equal(t, []string{"__id", "name"}, k.target)
	assert.Equal(t, []string{"__id", "name"}, k.source)
}

func TestParseBySourceAction(t *testing.T) {
	a, err := ParseBySourceAction("DELETE")
	require.NoError(t, err)
	assert.Equal(t, Delete, a)
	a, err = ParseBySourceAction("")
	require.NoError(t, err)
	assert.Equal(t, Ignore, a)
	_, err = ParseBySourceAction("update")
	assert.Error(t, err)
}
