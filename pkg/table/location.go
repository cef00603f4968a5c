package table

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/deltaflow/pkg/storage"
)

const (
	// DefaultPrefix is the path segment tables are provisioned under.
	DefaultPrefix = "minimal_example"

	logDir        = "_delta_log"
	logFileSuffix = ".json"
)

// Location addresses a table: s3://<bucket>/<path>.
type Location struct {
	Bucket string
	Path   string
}

// NewLocation returns a fresh location s3://<bucket>/<prefix>/<uuid>. Every
// call yields a new random id, so locations are never reused.
func NewLocation(bucket, prefix string) Location {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Location{Bucket: bucket, Path: path.Join(prefix, uuid.NewString())}
}

// ParseLocation parses an s3:// table URI.
func ParseLocation(raw string) (Location, error) {
	u, err := storage.ParseURI(raw)
	if err != nil {
		return Location{}, err
	}
	return Location{Bucket: u.Bucket, Path: u.Path}, nil
}

// String renders the location as a URI.
func (l Location) String() string {
	return storage.URI{Bucket: l.Bucket, Path: l.Path}.String()
}

// Key returns the bucket-relative object key of a path under the table.
func (l Location) Key(elem ...string) string {
	parts := make([]string, 0, len(elem)+1)
	if l.Path != "" {
		parts = append(parts, l.Path)
	}
	parts = append(parts, elem...)
	return path.Join(parts...)
}

// LogPrefix returns the key prefix of the commit log, with trailing slash.
func (l Location) LogPrefix() string {
	return l.Key(logDir) + "/"
}

// LogKey returns the key of the commit file for version.
func (l Location) LogKey(version int64) string {
	return l.Key(logDir, fmt.Sprintf("%020d%s", version, logFileSuffix))
}

// versionFromKey extracts the version of a commit file key.
func versionFromKey(key string) (int64, bool) {
	name := path.Base(key)
	if !strings.HasSuffix(name, logFileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(name, logFileSuffix)
	if len(digits) != 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// dataFileName returns a fresh data file name relative to the table root.
func dataFileName(n int) string {
	return fmt.Sprintf("part-%05d-%s.parquet", n, uuid.NewString())
}
