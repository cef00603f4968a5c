package table

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/formats/columnar"
	"github.com/ajitpratap0/deltaflow/pkg/json"
)

// WriteDataFile encodes rows with the table schema into a new Parquet file
// and returns the Add action registering it. The file is not live until the
// action is committed.
func (t *Table) WriteDataFile(ctx context.Context, rows []columnar.Row, part int) (Add, error) {
	data, err := columnar.EncodeParquet(t.Schema().ToArrow(), rows, t.opts.writer)
	if err != nil {
		return Add{}, errors.Wrap(err, errors.ErrorTypeData, "failed to encode data file")
	}

	name := dataFileName(part)
	if err := t.store.Put(ctx, t.location.Key(name), data); err != nil {
		return Add{}, errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload data file "+name)
	}

	stats, err := json.Marshal(FileStats{NumRecords: int64(len(rows))})
	if err != nil {
		return Add{}, errors.Wrap(err, errors.ErrorTypeData, "failed to encode file stats")
	}
	t.logger.Debug("data file written",
		zap.String("path", name),
		zap.Int("rows", len(rows)),
		zap.Int("bytes", len(data)))

	return Add{
		Path:             name,
		PartitionValues:  map[string]string{},
		Size:             int64(len(data)),
		ModificationTime: t.opts.now().UnixMilli(),
		DataChange:       true,
		Stats:            string(stats),
	}, nil
}

// ReadDataFile decodes the rows of a data file given its table-relative
// path.
func (t *Table) ReadDataFile(ctx context.Context, path string) ([]columnar.Row, error) {
	data, err := t.store.Get(ctx, t.location.Key(path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read data file "+path)
	}
	_, rows, err := columnar.DecodeParquet(ctx, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode data file "+path)
	}
	return rows, nil
}

// Rows reads every live row, file by file.
func (t *Table) Rows(ctx context.Context) ([]columnar.Row, error) {
	var out []columnar.Row
	for _, f := range t.snapshot.files {
		rows, err := t.ReadDataFile(ctx, f.Path)
		if err != nil {
			return nil, fmt.Errorf("version %d: %w", t.Version(), err)
		}
		out = append(out, rows...)
	}
	return out, nil
}
