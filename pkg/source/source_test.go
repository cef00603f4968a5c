package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minimal.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadUsesTargetTypes(t *testing.T) {
	path := writeCSV(t, "__id;__createdat;name;score\n"+
		"a;2024-01-02T03:04:05Z;alpha;1.5\n"+
		"b;2024-01-03T03:04:05Z;beta;2\n")

	loader := NewLoader(OptionsFor(path, ';', schema.Default()), zap.NewNop())
	batch, err := loader.Load(context.Background())
	require.NoError(t, err)
	defer batch.Release()

	assert.Equal(t, int64(2), batch.NumRows())
	assert.Equal(t, path, batch.Path())

	s := batch.Schema()
	require.Equal(t, 4, s.NumFields())
	idx := s.FieldIndices("__createdat")
	require.Len(t, idx, 1)
	assert.Equal(t, arrow.TIMESTAMP, s.Field(idx[0]).Type.ID())
	idx = s.FieldIndices("score")
	require.Len(t, idx, 1)
	assert.Equal(t, arrow.FLOAT64, s.Field(idx[0]).Type.ID())

	rows := batch.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["__id"])
	assert.Equal(t, "beta", rows[1]["name"])
	created, ok := rows[0]["__createdat"].(time.Time)
	require.True(t, ok)
	assert.True(t, created.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestLoadEmptyCellsAreNull(t *testing.T) {
	path := writeCSV(t, "__id;note\na;x\nb;\n")

	batch, err := NewLoader(Options{Path: path}, nil).Load(context.Background())
	require.NoError(t, err)
	defer batch.Release()

	rows := batch.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "x", rows[0]["note"])
	assert.Nil(t, rows[1]["note"])
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name   string
		path   func(t *testing.T) string
		errMsg string
	}{
		{
			name:   "missing file",
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.csv") },
			errMsg: "absent.csv",
		},
		{
			name:   "missing merge key",
			path:   func(t *testing.T) string { return writeCSV(t, "id;name\n1;a\n") },
			errMsg: "merge key column __id is missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(Options{Path: tt.path(t)}, nil).Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrSourceLoadFailed)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadReaderHonoursDelimiter(t *testing.T) {
	loader := NewLoader(Options{Path: "inline", Delimiter: ','}, nil)
	batch, err := loader.LoadReader(context.Background(), strings.NewReader("__id,n\nx,1\ny,2\nz,3\n"))
	require.NoError(t, err)
	defer batch.Release()

	assert.Equal(t, int64(3), batch.NumRows())
	head := batch.Head(2)
	require.Len(t, head, 2)
	assert.Equal(t, int64(1), head[0]["n"])
}

func TestPreview(t *testing.T) {
	loader := NewLoader(Options{Path: "inline"}, nil)
	batch, err := loader.LoadReader(context.Background(), strings.NewReader("__id;name\na;alpha\nb;\nc;gamma\n"))
	require.NoError(t, err)
	defer batch.Release()

	var buf bytes.Buffer
	n, err := Preview(&buf, batch, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"__id", "name"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"a", "alpha"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"b", "NULL"}, strings.Fields(lines[2]))
}

func TestLoadHeaderOnly(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"trailing newline", "__id;__createdat;note\n"},
		{"no trailing newline", "__id;__createdat;note"},
		{"blank lines", "__id;__createdat;note\n\n\n"},
		{"crlf", "__id;__createdat;note\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, tt.data)

			batch, err := NewLoader(OptionsFor(path, ';', schema.Default()), nil).Load(context.Background())
			require.NoError(t, err)
			defer batch.Release()

			assert.Equal(t, int64(0), batch.NumRows())
			assert.Empty(t, batch.Rows())
			s := batch.Schema()
			require.Equal(t, 3, s.NumFields())
			assert.Equal(t, "note", s.Field(2).Name)
			assert.Equal(t, arrow.TIMESTAMP, s.Field(1).Type.ID())
			assert.Equal(t, arrow.STRING, s.Field(2).Type.ID())
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeCSV(t, "")

	_, err := NewLoader(OptionsFor(path, ';', schema.Default()), nil).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSourceLoadFailed)
	assert.Contains(t, err.Error(), "no header row")
}
