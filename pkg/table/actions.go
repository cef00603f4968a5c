package table

import (
	"fmt"

	"github.com/ajitpratap0/deltaflow/pkg/json"
)

// Protocol versions written by deltaflow.
const (
	MinReaderVersion = 1
	MinWriterVersion = 2
)

// Operation names recorded in commitInfo.
const (
	OperationCreate          = "CREATE TABLE"
	OperationCreateOrReplace = "CREATE OR REPLACE TABLE"
	OperationMerge           = "MERGE"
)

// Action is one line of a commit file. Exactly one field is set.
type Action struct {
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
	Protocol   *Protocol   `json:"protocol,omitempty"`
	MetaData   *Metadata   `json:"metaData,omitempty"`
	Add        *Add        `json:"add,omitempty"`
	Remove     *Remove     `json:"remove,omitempty"`
}

// CommitInfo records who committed a version and why.
type CommitInfo struct {
	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters,omitempty"`
	OperationMetrics    map[string]string `json:"operationMetrics,omitempty"`
	ReadVersion         *int64            `json:"readVersion,omitempty"`
	IsBlindAppend       bool              `json:"isBlindAppend"`
	ClientVersion       string            `json:"clientVersion,omitempty"`
	// Version is filled in on replay; it is not stored.
	Version int64 `json:"-"`
}

// Protocol is the minimum reader/writer protocol of the table.
type Protocol struct {
	MinReaderVersion int `json:"minReaderVersion"`
	MinWriterVersion int `json:"minWriterVersion"`
}

// Format describes the data file encoding.
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

// Metadata carries the table identity and schema.
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      int64             `json:"createdTime"`
}

// Add registers a data file as live.
type Add struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	Stats            string            `json:"stats,omitempty"`
}

// Remove retires a data file.
type Remove struct {
	Path              string `json:"path"`
	DeletionTimestamp int64  `json:"deletionTimestamp"`
	DataChange        bool   `json:"dataChange"`
	Size              int64  `json:"size,omitempty"`
}

// FileStats is the stats payload of an Add.
type FileStats struct {
	NumRecords int64 `json:"numRecords"`
}

// NumRecords decodes the row count from the stats, or -1 when unknown.
func (a *Add) NumRecords() int64 {
	if a.Stats == "" {
		return -1
	}
	var st FileStats
	if err := json.Unmarshal([]byte(a.Stats), &st); err != nil {
		return -1
	}
	return st.NumRecords
}

// encodeActions renders actions as newline-delimited JSON.
func encodeActions(actions []Action) ([]byte, error) {
	data, err := json.MarshalLines(len(actions), func(i int) interface{} { return &actions[i] })
	if err != nil {
		return nil, fmt.Errorf("failed to encode actions: %w", err)
	}
	return data, nil
}

// decodeActions parses a commit file. Blank lines are skipped.
func decodeActions(data []byte) ([]Action, error) {
	var actions []Action
	err := json.ScanLines(data, func(n int, line []byte) error {
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		actions = append(actions, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}
