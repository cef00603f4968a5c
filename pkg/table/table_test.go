package table

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/formats/columnar"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
	"github.com/ajitpratap0/deltaflow/pkg/storage"
)

const bucket = "lake"

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newStore() *storage.MemoryStore { return storage.NewMemoryStore(bucket) }

func mustCreate(t *testing.T, store storage.ObjectStore, loc Location) *Table {
	t.Helper()
	tbl, err := Create(context.Background(), store, loc, schema.Default(), ErrorIfExists, WithClock(clock))
	require.NoError(t, err)
	return tbl
}

func TestNewLocation(t *testing.T) {
	a := NewLocation(bucket, "")
	b := NewLocation(bucket, "/nightly/")

	assert.True(t, strings.HasPrefix(a.String(), "s3://lake/minimal_example/"))
	assert.True(t, strings.HasPrefix(b.Path, "nightly/"))
	assert.NotEqual(t, a.Path, NewLocation(bucket, "").Path)
	assert.Equal(t, a.Path+"/_delta_log/00000000000000000007.json", a.LogKey(7))

	parsed, err := ParseLocation(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	v, ok := versionFromKey(a.LogKey(42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)
	_, ok = versionFromKey(a.Key("_delta_log", "_commit_tmp.json"))
	assert.False(t, ok)
}

func TestCreateWritesVersionZero(t *testing.T) {
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)

	tbl := mustCreate(t, store, loc)
	assert.Equal(t, int64(0), tbl.Version())
	assert.True(t, schema.Default().Equal(tbl.Schema()))
	assert.Empty(t, tbl.Files())
	assert.Equal(t, Protocol{MinReaderVersion: 1, MinWriterVersion: 2}, tbl.Protocol())

	data, err := store.Get(context.Background(), loc.LogKey(0))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"commitInfo"`)
	assert.Contains(t, lines[0], `"operation":"CREATE TABLE"`)
	assert.Contains(t, lines[1], `"protocol"`)
	assert.Contains(t, lines[2], `"metaData"`)
	assert.Contains(t, lines[2], `\"name\":\"__id\"`)

	history := tbl.History()
	require.Len(t, history, 1)
	assert.Equal(t, fixedNow.UnixMilli(), history[0].Timestamp)
}

func TestCreateTwiceFailsAndLeavesVersionZero(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	mustCreate(t, store, loc)

	_, err := Create(ctx, store, loc, schema.Default(), ErrorIfExists)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTableAlreadyExists)
	assert.Contains(t, err.Error(), loc.String())

	opened, err := Open(ctx, store, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), opened.Version())
	assert.Len(t, store.Keys(), 1)
}

func TestCreateRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Create(ctx, store, loc, schema.Default(), ErrorIfExists)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, errors.ErrTableAlreadyExists)
	}
	assert.Equal(t, 1, ok)
}

func TestOpenReturnsReservedColumns(t *testing.T) {
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	mustCreate(t, store, loc)

	tbl, err := Open(context.Background(), store, loc)
	require.NoError(t, err)

	fields := tbl.Schema().Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, schema.Field{Name: "__id", Type: schema.TypeString}, fields[0])
	assert.Equal(t, schema.Field{Name: "__createdat", Type: schema.TypeTimestamp}, fields[1])
	assert.Equal(t, schema.Field{Name: "__updatedat", Type: schema.TypeTimestamp}, fields[2])
}

func TestOpenMissingTable(t *testing.T) {
	_, err := Open(context.Background(), newStore(), NewLocation(bucket, DefaultPrefix))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTableNotFound)
}

func TestOpenRejectsForeignBucket(t *testing.T) {
	_, err := Open(context.Background(), newStore(), NewLocation("elsewhere", DefaultPrefix))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func rowsFor(ids ...string) []columnar.Row {
	rows := make([]columnar.Row, len(ids))
	for i, id := range ids {
		rows[i] = columnar.Row{"__id": id, "__createdat": fixedNow, "__updatedat": fixedNow}
	}
	return rows
}

func appendFile(t *testing.T, tbl *Table, ids ...string) *Table {
	t.Helper()
	ctx := context.Background()
	add, err := tbl.WriteDataFile(ctx, rowsFor(ids...), len(tbl.Files()))
	require.NoError(t, err)
	next, err := tbl.Commit(ctx, []Action{{Add: &add}}, CommitInfo{Operation: "WRITE"})
	require.NoError(t, err)
	return next
}

func TestCommitAndReadBack(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	tbl := mustCreate(t, store, loc)

	v1 := appendFile(t, tbl, "a", "b")
	assert.Equal(t, int64(1), v1.Version())
	assert.Equal(t, int64(0), tbl.Version(), "committing must not mutate the old view")
	require.Len(t, v1.Files(), 1)
	assert.True(t, strings.HasPrefix(v1.Files()[0].Path, "part-00000-"))
	assert.Equal(t, int64(2), v1.NumRecords())

	rows, err := v1.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["__id"])

	reopened, err := Open(ctx, store, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reopened.Version())
	assert.Equal(t, v1.Files(), reopened.Files())

	history := reopened.History()
	require.Len(t, history, 2)
	assert.Equal(t, "WRITE", history[0].Operation)
	assert.Equal(t, int64(1), history[0].Version)
	require.NotNil(t, history[0].ReadVersion)
	assert.Equal(t, int64(0), *history[0].ReadVersion)
}

func TestOpenVersionTimeTravel(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	v2 := appendFile(t, appendFile(t, mustCreate(t, store, loc), "a"), "b")
	require.Equal(t, int64(2), v2.Version())

	v1, err := OpenVersion(ctx, store, loc, 1)
	require.NoError(t, err)
	assert.Len(t, v1.Files(), 1)

	_, err = OpenVersion(ctx, store, loc, 5)
	assert.ErrorIs(t, err, errors.ErrTableNotFound)
}

func TestConcurrentCommitLoses(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	base := mustCreate(t, store, loc)

	appendFile(t, base, "a")

	add, err := base.WriteDataFile(ctx, rowsFor("b"), 1)
	require.NoError(t, err)
	_, err = base.Commit(ctx, []Action{{Add: &add}}, CommitInfo{Operation: "WRITE"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConcurrentModification)

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	expected, _ := e.Detail("expected_version")
	actual, _ := e.Detail("actual_version")
	assert.Equal(t, int64(0), expected)
	assert.Equal(t, int64(1), actual)

	latest, err := Open(ctx, store, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version())
}

func TestCreateOverwriteRemovesFiles(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	v1 := appendFile(t, mustCreate(t, store, loc), "a")

	wider := schema.MustNew(append(schema.Default().Fields(),
		schema.Field{Name: "name", Type: schema.TypeString, Nullable: true})...)
	replaced, err := Create(ctx, store, loc, wider, Overwrite)
	require.NoError(t, err)

	assert.Equal(t, int64(2), replaced.Version())
	assert.Empty(t, replaced.Files())
	assert.Equal(t, 4, replaced.Schema().Len())
	assert.Equal(t, v1.Metadata().ID, replaced.Metadata().ID)
	assert.Equal(t, OperationCreateOrReplace, replaced.History()[0].Operation)
}

func TestCreateIgnoreOpensExisting(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	loc := NewLocation(bucket, DefaultPrefix)
	appendFile(t, mustCreate(t, store, loc), "a")

	tbl, err := Create(ctx, store, loc, schema.Default(), Ignore)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tbl.Version())
	assert.Len(t, tbl.Files(), 1)

	fresh, err := Create(ctx, store, NewLocation(bucket, DefaultPrefix), schema.Default(), Ignore)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fresh.Version())
}

func TestParseSaveMode(t *testing.T) {
	for in, want := range map[string]SaveMode{
		"error_if_exists": ErrorIfExists,
		"overwrite":       Overwrite,
		"Ignore":          Ignore,
	} {
		got, err := ParseSaveMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSaveMode("append")
	assert.Error(t, err)
	assert.Equal(t, "SaveMode(9)", SaveMode(9).String())
}

func TestDecodeActionsSkipsBlankLines(t *testing.T) {
	actions, err := decodeActions([]byte("{\"protocol\":{\"minReaderVersion\":1,\"minWriterVersion\":2}}\n\n{\"remove\":{\"path\":\"x\",\"deletionTimestamp\":1,\"dataChange\":true}}\n"))
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 2, actions[0].Protocol.MinWriterVersion)
	assert.Equal(t, "x", actions[1].Remove.Path)

	_, err = decodeActions([]byte("{not json"))
	assert.Error(t, err)
}
