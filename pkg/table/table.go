// Package table implements versioned tables on an object store.
//
// A table is a directory holding Parquet data files and a commit log:
//
//	<location>/_delta_log/00000000000000000000.json
//	<location>/_delta_log/00000000000000000001.json
//	<location>/part-00000-<uuid>.parquet
//
// Each commit file holds newline-delimited actions (commitInfo, protocol,
// metaData, add, remove). Replaying the log from version 0 yields the
// table's schema and live data files. A commit for version N+1 is written
// with a put-if-absent, so of two writers that both read version N exactly
// one succeeds and the other gets ConcurrentModification.
package table

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/formats/columnar"
	"github.com/ajitpratap0/deltaflow/pkg/logger"
	"github.com/ajitpratap0/deltaflow/pkg/metrics"
	"github.com/ajitpratap0/deltaflow/pkg/observability"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
	"github.com/ajitpratap0/deltaflow/pkg/storage"
)

// ClientVersion is recorded in every commitInfo.
const ClientVersion = "deltaflow"

// SaveMode decides what Create does when a table already exists.
type SaveMode int

const (
	// ErrorIfExists fails with TableAlreadyExists.
	ErrorIfExists SaveMode = iota
	// Overwrite commits a new version replacing schema and data.
	Overwrite
	// Ignore opens the existing table untouched.
	Ignore
)

func (m SaveMode) String() string {
	switch m {
	case ErrorIfExists:
		return "ErrorIfExists"
	case Overwrite:
		return "Overwrite"
	case Ignore:
		return "Ignore"
	default:
		return "SaveMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseSaveMode accepts error_if_exists, overwrite and ignore.
func ParseSaveMode(s string) (SaveMode, error) {
	switch s {
	case "error_if_exists", "errorifexists", "ErrorIfExists":
		return ErrorIfExists, nil
	case "overwrite", "Overwrite":
		return Overwrite, nil
	case "ignore", "Ignore":
		return Ignore, nil
	}
	return 0, errors.Newf(errors.ErrorTypeValidation, "unknown save mode %q", s)
}

type options struct {
	logger *zap.Logger
	writer *columnar.WriterConfig
	now    func() time.Time
	name   string
}

// Option customises Create and Open.
type Option func(*options)

// WithLogger sets the logger used by the table.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithWriterConfig sets the Parquet settings for new data files.
func WithWriterConfig(c *columnar.WriterConfig) Option {
	return func(o *options) { o.writer = c }
}

// WithClock replaces time.Now for commit and file timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithName sets the table name recorded in metadata on Create.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	o := options{writer: columnar.DefaultWriterConfig(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrNop(o.logger).With(zap.String("component", "table"))
	return o
}

// Table is an immutable view of a table at one version. Commit returns a
// new Table for the new version.
type Table struct {
	store    storage.ObjectStore
	location Location
	snapshot *Snapshot
	opts     options
	logger   *zap.Logger
}

// Create provisions a table at loc with sch. See SaveMode for the handling
// of an existing table.
func Create(ctx context.Context, store storage.ObjectStore, loc Location, sch *schema.TableSchema, mode SaveMode, opts ...Option) (*Table, error) {
	o := buildOptions(opts)
	log := o.logger.With(zap.String("location", loc.String()), zap.Stringer("mode", mode))

	if err := checkBucket(store, loc); err != nil {
		return nil, err
	}
	if sch == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "schema is required")
	}

	ctx, span := observability.StartSpan(ctx, "table.create",
		attribute.String("table.location", loc.String()),
		attribute.String("table.save_mode", mode.String()))
	t, err := create(ctx, store, loc, sch, mode, o, log)
	observability.EndSpan(span, err)
	return t, err
}

func create(ctx context.Context, store storage.ObjectStore, loc Location, sch *schema.TableSchema, mode SaveMode, o options, log *zap.Logger) (*Table, error) {
	latest, err := latestVersion(ctx, store, loc)
	if err != nil {
		return nil, err
	}

	if latest >= 0 {
		switch mode {
		case Ignore:
			log.Info("table exists, opening", zap.Int64("version", latest))
			return load(ctx, store, loc, latest, o)
		case Overwrite:
			existing, err := load(ctx, store, loc, latest, o)
			if err != nil {
				return nil, err
			}
			return existing.replace(ctx, sch)
		default:
			return nil, errors.TableAlreadyExists(loc.String())
		}
	}

	actions, err := initialActions(sch, o)
	if err != nil {
		return nil, err
	}
	info := CommitInfo{
		Timestamp: o.now().UnixMilli(),
		Operation: OperationCreate,
		OperationParameters: map[string]string{
			"mode":     mode.String(),
			"location": loc.String(),
		},
		IsBlindAppend: true,
		ClientVersion: ClientVersion,
	}
	all := append([]Action{{CommitInfo: &info}}, actions...)
	data, err := encodeActions(all)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode initial commit")
	}

	if err := store.PutIfAbsent(ctx, loc.LogKey(0), data); err != nil {
		if storage.IsExists(err) {
			metrics.CommitAttempts.WithLabelValues(metrics.CommitConflict).Inc()
			if mode == Ignore {
				return load(ctx, store, loc, -1, o)
			}
			// Overwrite against a racing creator is reported as a lost create too.
			return nil, errors.TableAlreadyExists(loc.String())
		}
		metrics.CommitAttempts.WithLabelValues(metrics.CommitFailed).Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to write initial commit").
			WithDetail("location", loc.String())
	}
	metrics.CommitAttempts.WithLabelValues(metrics.CommitCommitted).Inc()

	snap := newSnapshot()
	if err := snap.apply(0, all); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to apply initial commit")
	}
	metrics.TableVersion.WithLabelValues(loc.String()).Set(0)
	log.Info("table created", zap.String("schema", sch.String()))
	return newTable(store, loc, snap, o), nil
}

func initialActions(sch *schema.TableSchema, o options) ([]Action, error) {
	schemaString, err := sch.SchemaString()
	if err != nil {
		return nil, err
	}
	return []Action{
		{Protocol: &Protocol{MinReaderVersion: MinReaderVersion, MinWriterVersion: MinWriterVersion}},
		{MetaData: &Metadata{
			ID:               uuid.NewString(),
			Name:             o.name,
			Format:           Format{Provider: string(columnar.Parquet), Options: map[string]string{}},
			SchemaString:     schemaString,
			PartitionColumns: []string{},
			Configuration:    map[string]string{},
			CreatedTime:      o.now().UnixMilli(),
		}},
	}, nil
}

// replace commits a version that drops every live file and installs sch.
// The table id is kept.
func (t *Table) replace(ctx context.Context, sch *schema.TableSchema) (*Table, error) {
	actions, err := initialActions(sch, t.opts)
	if err != nil {
		return nil, err
	}
	actions[1].MetaData.ID = t.snapshot.Metadata.ID
	if actions[1].MetaData.Name == "" {
		actions[1].MetaData.Name = t.snapshot.Metadata.Name
	}
	now := t.opts.now().UnixMilli()
	for _, f := range t.snapshot.files {
		actions = append(actions, Action{Remove: &Remove{
			Path:              f.Path,
			DeletionTimestamp: now,
			DataChange:        true,
			Size:              f.Size,
		}})
	}
	return t.Commit(ctx, actions, CommitInfo{
		Operation:           OperationCreateOrReplace,
		OperationParameters: map[string]string{"mode": Overwrite.String()},
	})
}

// Open loads the latest version of the table at loc.
func Open(ctx context.Context, store storage.ObjectStore, loc Location, opts ...Option) (*Table, error) {
	return OpenVersion(ctx, store, loc, -1, opts...)
}

// OpenVersion loads the table at loc as of version; a negative version
// means the latest.
func OpenVersion(ctx context.Context, store storage.ObjectStore, loc Location, version int64, opts ...Option) (*Table, error) {
	if err := checkBucket(store, loc); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	ctx, span := observability.StartSpan(ctx, "table.open",
		attribute.String("table.location", loc.String()),
		attribute.Int64("table.version", version))
	t, err := load(ctx, store, loc, version, o)
	observability.EndSpan(span, err)
	return t, err
}

func load(ctx context.Context, store storage.ObjectStore, loc Location, version int64, o options) (*Table, error) {
	versions, err := listVersions(ctx, store, loc)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, errors.TableNotFound(loc.String())
	}
	latest := versions[len(versions)-1]
	if version < 0 {
		version = latest
	}
	if version > latest {
		return nil, errors.TableNotFound(loc.String()).WithDetail("version", version)
	}

	snap := newSnapshot()
	for v := int64(0); v <= version; v++ {
		if v >= int64(len(versions)) || versions[v] != v {
			return nil, errors.Newf(errors.ErrorTypeData, "commit log of %s has no version %d", loc, v)
		}
		data, err := store.Get(ctx, loc.LogKey(v))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to read version %d", v))
		}
		actions, err := decodeActions(data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("failed to decode version %d", v))
		}
		if err := snap.apply(v, actions); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to replay commit log")
		}
	}

	o.logger.Debug("table loaded",
		zap.String("location", loc.String()),
		zap.Int64("version", snap.Version),
		zap.Int("files", len(snap.files)))
	return newTable(store, loc, snap, o), nil
}

func newTable(store storage.ObjectStore, loc Location, snap *Snapshot, o options) *Table {
	return &Table{
		store:    store,
		location: loc,
		snapshot: snap,
		opts:     o,
		logger:   o.logger.With(zap.String("location", loc.String())),
	}
}

func checkBucket(store storage.ObjectStore, loc Location) error {
	if loc.Bucket != store.Bucket() {
		return errors.Newf(errors.ErrorTypeValidation, "location %s is outside bucket %s", loc, store.Bucket())
	}
	return nil
}

// listVersions returns the committed versions at loc in ascending order.
func listVersions(ctx context.Context, store storage.ObjectStore, loc Location) ([]int64, error) {
	objs, err := store.List(ctx, loc.LogPrefix())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list commit log").
			WithDetail("location", loc.String())
	}
	versions := make([]int64, 0, len(objs))
	for _, obj := range objs {
		if v, ok := versionFromKey(obj.Key); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// latestVersion returns the newest committed version, or -1.
func latestVersion(ctx context.Context, store storage.ObjectStore, loc Location) (int64, error) {
	versions, err := listVersions(ctx, store, loc)
	if err != nil {
		return -1, err
	}
	if len(versions) == 0 {
		return -1, nil
	}
	return versions[len(versions)-1], nil
}

// Location returns where the table lives.
func (t *Table) Location() Location { return t.location }

// Store returns the object store backing the table.
func (t *Table) Store() storage.ObjectStore { return t.store }

// Version returns the version this handle was loaded at.
func (t *Table) Version() int64 { return t.snapshot.Version }

// Schema returns the table schema at Version.
func (t *Table) Schema() *schema.TableSchema { return t.snapshot.Schema }

// Metadata returns the metaData action in effect at Version.
func (t *Table) Metadata() Metadata { return t.snapshot.Metadata }

// Protocol returns the reader/writer protocol versions.
func (t *Table) Protocol() Protocol { return t.snapshot.Protocol }

// Files returns the live data files.
func (t *Table) Files() []Add { return t.snapshot.Files() }

// History returns the commit info of every version, newest first.
func (t *Table) History() []CommitInfo { return t.snapshot.History() }

// NumRecords returns the row count recorded in file stats.
func (t *Table) NumRecords() int64 { return t.snapshot.NumRecords() }

// LatestVersion lists the log and returns the newest committed version,
// which may be ahead of Version.
func (t *Table) LatestVersion(ctx context.Context) (int64, error) {
	return latestVersion(ctx, t.store, t.location)
}

// Now returns the table clock's current time.
func (t *Table) Now() time.Time { return t.opts.now() }

// Commit writes actions as version Version()+1. The commitInfo is
// completed with timestamp, read version and client version. Losing the
// race for the version yields ConcurrentModification; nothing is retried.
func (t *Table) Commit(ctx context.Context, actions []Action, info CommitInfo) (*Table, error) {
	readVersion := t.Version()
	version := readVersion + 1

	info.Timestamp = t.opts.now().UnixMilli()
	info.ReadVersion = &readVersion
	info.ClientVersion = ClientVersion
	all := append([]Action{{CommitInfo: &info}}, actions...)

	ctx, span := observability.StartSpan(ctx, "table.commit",
		attribute.String("table.location", t.location.String()),
		attribute.String("table.operation", info.Operation),
		attribute.Int64("table.version", version))
	next, err := t.commit(ctx, version, all)
	observability.EndSpan(span, err)
	return next, err
}

func (t *Table) commit(ctx context.Context, version int64, all []Action) (*Table, error) {
	data, err := encodeActions(all)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode commit")
	}

	if err := t.store.PutIfAbsent(ctx, t.location.LogKey(version), data); err != nil {
		if storage.IsExists(err) {
			metrics.CommitAttempts.WithLabelValues(metrics.CommitConflict).Inc()
			actual, lerr := t.LatestVersion(ctx)
			if lerr != nil {
				actual = version
			}
			t.logger.Warn("commit lost to a concurrent writer",
				zap.Int64("read_version", version-1),
				zap.Int64("latest_version", actual))
			return nil, errors.ConcurrentModification(t.location.String(), version-1, actual)
		}
		metrics.CommitAttempts.WithLabelValues(metrics.CommitFailed).Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to write version %d", version)).
			WithDetail("location", t.location.String())
	}
	metrics.CommitAttempts.WithLabelValues(metrics.CommitCommitted).Inc()
	metrics.TableVersion.WithLabelValues(t.location.String()).Set(float64(version))

	snap := t.snapshot.clone()
	if err := snap.apply(version, all); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to apply commit")
	}
	t.logger.Info("version committed",
		zap.Int64("version", version),
		zap.String("operation", all[0].CommitInfo.Operation),
		zap.Int("actions", len(all)))
	return newTable(t.store, t.location, snap, t.opts), nil
}
