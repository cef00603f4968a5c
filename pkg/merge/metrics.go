package merge

import (
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/deltaflow/pkg/metrics"
	"github.com/ajitpratap0/deltaflow/pkg/table"
)

// Metrics reports what a merge did.
type Metrics struct {
	NumSourceRows         int64 `json:"num_source_rows" yaml:"num_source_rows"`
	NumTargetRowsInserted int64 `json:"num_target_rows_inserted" yaml:"num_target_rows_inserted"`
	NumTargetRowsUpdated  int64 `json:"num_target_rows_updated" yaml:"num_target_rows_updated"`
	NumTargetRowsDeleted  int64 `json:"num_target_rows_deleted" yaml:"num_target_rows_deleted"`
	NumTargetRowsCopied   int64 `json:"num_target_rows_copied" yaml:"num_target_rows_copied"`
	NumTargetRowsMatched  int64 `json:"num_target_rows_matched" yaml:"num_target_rows_matched"`
	NumOutputRows         int64 `json:"num_output_rows" yaml:"num_output_rows"`
	NumTargetFilesAdded   int64 `json:"num_target_files_added" yaml:"num_target_files_added"`
	NumTargetFilesRemoved int64 `json:"num_target_files_removed" yaml:"num_target_files_removed"`
	ExecutionTimeMs       int64 `json:"execution_time_ms" yaml:"execution_time_ms"`
	ScanTimeMs            int64 `json:"scan_time_ms" yaml:"scan_time_ms"`
	RewriteTimeMs         int64 `json:"rewrite_time_ms" yaml:"rewrite_time_ms"`
}

// Changed reports whether the merge modified any target row.
func (m Metrics) Changed() bool {
	return m.NumTargetRowsInserted+m.NumTargetRowsUpdated+m.NumTargetRowsDeleted > 0
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m Metrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("source_rows", m.NumSourceRows)
	enc.AddInt64("inserted", m.NumTargetRowsInserted)
	enc.AddInt64("updated", m.NumTargetRowsUpdated)
	enc.AddInt64("deleted", m.NumTargetRowsDeleted)
	enc.AddInt64("copied", m.NumTargetRowsCopied)
	enc.AddInt64("matched", m.NumTargetRowsMatched)
	enc.AddInt64("output_rows", m.NumOutputRows)
	enc.AddInt64("files_added", m.NumTargetFilesAdded)
	enc.AddInt64("files_removed", m.NumTargetFilesRemoved)
	enc.AddInt64("execution_ms", m.ExecutionTimeMs)
	return nil
}

func (m Metrics) field() zap.Field { return zap.Object("metrics", m) }

// operationMetrics renders the metrics for the commitInfo.
func (m Metrics) operationMetrics() map[string]string {
	f := strconv.FormatInt
	return map[string]string{
		"numSourceRows":         f(m.NumSourceRows, 10),
		"numTargetRowsInserted": f(m.NumTargetRowsInserted, 10),
		"numTargetRowsUpdated":  f(m.NumTargetRowsUpdated, 10),
		"numTargetRowsDeleted":  f(m.NumTargetRowsDeleted, 10),
		"numTargetRowsCopied":   f(m.NumTargetRowsCopied, 10),
		"numOutputRows":         f(m.NumOutputRows, 10),
		"numTargetFilesAdded":   f(m.NumTargetFilesAdded, 10),
		"numTargetFilesRemoved": f(m.NumTargetFilesRemoved, 10),
		"scanTimeMs":            f(m.ScanTimeMs, 10),
		"rewriteTimeMs":         f(m.RewriteTimeMs, 10),
	}
}

func (m Metrics) record() {
	metrics.MergeRows.WithLabelValues("inserted").Add(float64(m.NumTargetRowsInserted))
	metrics.MergeRows.WithLabelValues("updated").Add(float64(m.NumTargetRowsUpdated))
	metrics.MergeRows.WithLabelValues("deleted").Add(float64(m.NumTargetRowsDeleted))
	metrics.MergeRows.WithLabelValues("copied").Add(float64(m.NumTargetRowsCopied))
}

// Outcome is the result of a merge: the table as of the new version (or
// the unchanged input table for a no-op merge) and the merge metrics.
type Outcome struct {
	Table   *table.Table
	Metrics Metrics
}
