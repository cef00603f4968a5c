// Package pipeline runs the deltaflow workflow: resolve the connection,
// create a fresh table, re-open it, load the source file and merge it in.
//
// Steps run strictly in order. The first failure stops the run and is
// returned as a *StepError naming the step; nothing already committed is
// rolled back.
//
//	wf, err := pipeline.New(pipeline.Options{Run: runCfg, Logger: log})
//	if err != nil {
//	    return err
//	}
//	result, err := wf.Run(ctx)
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/config"
	"github.com/ajitpratap0/deltaflow/pkg/logger"
	"github.com/ajitpratap0/deltaflow/pkg/merge"
	"github.com/ajitpratap0/deltaflow/pkg/metrics"
	"github.com/ajitpratap0/deltaflow/pkg/observability"
	"github.com/ajitpratap0/deltaflow/pkg/schema"
	"github.com/ajitpratap0/deltaflow/pkg/source"
	"github.com/ajitpratap0/deltaflow/pkg/storage"
	"github.com/ajitpratap0/deltaflow/pkg/table"
)

// Step names a workflow step.
type Step string

const (
	StepResolveConfig Step = "resolve-config"
	StepCreateTable   Step = "create-table"
	StepOpenTable     Step = "open-table"
	StepLoadSource    Step = "load-source"
	StepMerge         Step = "merge"
)

// Steps lists the workflow steps in execution order.
var Steps = []Step{StepResolveConfig, StepCreateTable, StepOpenTable, StepLoadSource, StepMerge}

// StepError reports the step a run failed in.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", string(e.Step), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StoreFactory opens the object store for a resolved connection.
type StoreFactory func(ctx context.Context, conn *config.ConnectionConfig) (storage.ObjectStore, error)

// S3Stores returns a StoreFactory backed by storage.NewS3Store.
func S3Stores(log *zap.Logger) StoreFactory {
	return func(ctx context.Context, conn *config.ConnectionConfig) (storage.ObjectStore, error) {
		return storage.NewS3Store(ctx, conn.ToParameterMap(), log)
	}
}

// Options configures a Workflow. Only Run is required.
type Options struct {
	Run *config.RunConfig
	// Resolve supplies the connection. Defaults to config.Resolve.
	Resolve func() (*config.ConnectionConfig, error)
	// Stores opens the object store. Defaults to S3Stores.
	Stores StoreFactory
	// Preview receives the source preview table. Nil disables it.
	Preview io.Writer
	Logger  *zap.Logger
	// Clock overrides time.Now for commit timestamps.
	Clock func() time.Time
}

// StepTiming is the duration of one completed step.
type StepTiming struct {
	Step     Step          `json:"step" yaml:"step"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result describes a successful run.
type Result struct {
	RunID    string
	Location table.Location
	// Created is the table as committed by the create step.
	Created *table.Table
	Outcome *merge.Outcome
	Steps   []StepTiming
}

// Workflow runs one create + merge cycle.
type Workflow struct {
	opts   Options
	logger *zap.Logger
}

// New validates opts and fills defaults.
func New(opts Options) (*Workflow, error) {
	if opts.Run == nil {
		return nil, fmt.Errorf("run configuration is required")
	}
	if err := opts.Run.Validate(); err != nil {
		return nil, err
	}
	log := logger.OrNop(opts.Logger).With(zap.String("component", "pipeline"))
	if opts.Resolve == nil {
		opts.Resolve = config.Resolve
	}
	if opts.Stores == nil {
		opts.Stores = S3Stores(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Workflow{opts: opts, logger: log}, nil
}

// run carries the values handed from one step to the next.
type run struct {
	conn  *config.ConnectionConfig
	store storage.ObjectStore
	loc   table.Location
	table *table.Table
	batch *source.Batch
}

// Run executes every step. The run is bounded by the configured timeout.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	cfg := w.opts.Run
	ctx, cancel := context.WithTimeout(ctx, cfg.Run.Timeout)
	defer cancel()

	result := &Result{RunID: uuid.NewString()}
	ctx = logger.ContextWith(ctx, logger.RunIDKey, result.RunID)
	log := w.logger.With(zap.String("run_id", result.RunID))
	log.Info("workflow started", zap.String("config", cfg.String()))

	var r run
	defer func() {
		if r.batch != nil {
			r.batch.Release()
		}
	}()

	steps := []struct {
		step Step
		fn   func(context.Context, *run, *Result) error
	}{
		{StepResolveConfig, w.resolveConfig},
		{StepCreateTable, w.createTable},
		{StepOpenTable, w.openTable},
		{StepLoadSource, w.loadSource},
		{StepMerge, w.merge},
	}

	start := time.Now()
	for _, s := range steps {
		d, err := w.runStep(ctx, log, s.step, func(ctx context.Context) error { return s.fn(ctx, &r, result) })
		if err != nil {
			log.Error("workflow failed", zap.String("step", string(s.step)), zap.Error(err))
			return nil, &StepError{Step: s.step, Err: err}
		}
		result.Steps = append(result.Steps, StepTiming{Step: s.step, Duration: d})
	}

	log.Info("workflow completed",
		zap.String("location", result.Location.String()),
		zap.Int64("version", result.Outcome.Table.Version()),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (w *Workflow) runStep(ctx context.Context, log *zap.Logger, step Step, fn func(context.Context) error) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ctx = logger.ContextWith(ctx, logger.StepKey, string(step))
	ctx, span := observability.StartSpan(ctx, "workflow."+string(step),
		attribute.String("step", string(step)))
	timer := metrics.NewTimer(string(step))

	log = log.With(zap.String("step", string(step)))
	log.Debug("step started")
	err := fn(ctx)
	d := timer.ObserveStep(err == nil)
	observability.EndSpan(span, err)
	if err != nil {
		log.Warn("step failed", zap.Duration("duration", d), zap.Error(err))
		return d, err
	}
	log.Info("step completed", zap.Duration("duration", d))
	return d, nil
}

func (w *Workflow) resolveConfig(ctx context.Context, r *run, _ *Result) error {
	conn, err := w.opts.Resolve()
	if err != nil {
		return err
	}
	r.conn = conn
	w.logger.Debug("connection resolved", zap.Stringer("connection", conn))
	return nil
}

func (w *Workflow) tableOptions() []table.Option {
	return []table.Option{table.WithLogger(w.opts.Logger), table.WithClock(w.opts.Clock)}
}

func (w *Workflow) createTable(ctx context.Context, r *run, res *Result) error {
	store, err := w.opts.Stores(ctx, r.conn)
	if err != nil {
		return err
	}
	r.store = store

	mode, err := table.ParseSaveMode(w.opts.Run.Table.SaveMode)
	if err != nil {
		return err
	}
	r.loc = table.NewLocation(r.conn.BucketName, w.opts.Run.Table.Prefix)
	res.Location = r.loc

	created, err := table.Create(ctx, store, r.loc, schema.Default(), mode, w.tableOptions()...)
	if err != nil {
		return err
	}
	res.Created = created
	return nil
}

func (w *Workflow) openTable(ctx context.Context, r *run, _ *Result) error {
	tbl, err := table.Open(ctx, r.store, r.loc, w.tableOptions()...)
	if err != nil {
		return err
	}
	r.table = tbl
	w.logger.Info("table opened",
		zap.String("location", r.loc.String()),
		zap.Int64("version", tbl.Version()),
		zap.Stringer("schema", tbl.Schema()))
	return nil
}

func (w *Workflow) loadSource(ctx context.Context, r *run, _ *Result) error {
	cfg := w.opts.Run
	opts := source.OptionsFor(cfg.Source.Path, cfg.DelimiterRune(), r.table.Schema())
	batch, err := source.NewLoader(opts, w.opts.Logger).Load(ctx)
	if err != nil {
		return err
	}
	r.batch = batch

	if w.opts.Preview != nil && cfg.Source.PreviewRows > 0 {
		if _, err := source.Preview(w.opts.Preview, batch, cfg.Source.PreviewRows); err != nil {
			w.logger.Warn("source preview failed", zap.Error(err))
		}
	}
	return nil
}

func (w *Workflow) merge(ctx context.Context, r *run, res *Result) error {
	cfg := w.opts.Run
	bySource, err := merge.ParseBySourceAction(cfg.Merge.NotMatchedBySource)
	if err != nil {
		return err
	}
	alias := cfg.Merge.SourceAlias

	out, err := merge.New(r.table, r.batch).
		On(merge.Eq(schema.IDColumn, alias+"."+schema.IDColumn)).
		WithSourceAlias(alias).
		WhenMatchedUpdateAll().
		WhenNotMatchedInsertAll().
		WhenNotMatchedBySource(bySource).
		WithLogger(w.opts.Logger).
		WithClock(w.opts.Clock).
		Execute(ctx)
	if err != nil {
		return err
	}
	res.Outcome = out
	return nil
}
