// Package merge reconciles a source batch with a table by key.
//
// A merge is configured explicitly; nothing happens for a case that has no
// clause:
//
//	outcome, err := merge.New(tbl, batch).
//	    On(merge.Eq("__id", "source.__id")).
//	    WithSourceAlias("source").
//	    WhenMatchedUpdateAll().
//	    WhenNotMatchedInsertAll().
//	    WhenNotMatchedBySource(merge.Ignore).
//	    Execute(ctx)
//
// Execution is copy-on-write. Every data file holding a target row that is
// updated or deleted is removed, and its surviving rows are rewritten with
// the updated and inserted rows into one new file. All of it lands in a
// single commit, or nothing does.
package merge

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/logger"
	"github.com/ajitpratap0/deltaflow/pkg/source"
	"github.com/ajitpratap0/deltaflow/pkg/table"
)

// DefaultSourceAlias qualifies source columns in the predicate.
const DefaultSourceAlias = "source"

// BySourceAction is applied to target rows no source row matches.
type BySourceAction int

const (
	// Ignore keeps unmatched target rows as they are.
	Ignore BySourceAction = iota
	// Delete removes unmatched target rows.
	Delete
)

func (a BySourceAction) String() string {
	if a == Delete {
		return "delete"
	}
	return "ignore"
}

// ParseBySourceAction accepts ignore and delete.
func ParseBySourceAction(s string) (BySourceAction, error) {
	switch strings.ToLower(s) {
	case "ignore", "":
		return Ignore, nil
	case "delete":
		return Delete, nil
	}
	return Ignore, fmt.Errorf("unknown not-matched-by-source action %q", s)
}

type matchedKind int

const (
	updateAll matchedKind = iota + 1
	updateColumns
	deleteMatched
)

type matchedClause struct {
	kind    matchedKind
	columns []string
}

func (c *matchedClause) String() string {
	switch c.kind {
	case updateAll:
		return "update all"
	case updateColumns:
		return "update " + strings.Join(c.columns, ", ")
	default:
		return "delete"
	}
}

// Builder configures a merge. Methods return the builder for chaining; a
// misconfiguration is reported by Execute.
type Builder struct {
	table       *table.Table
	source      *source.Batch
	predicate   *Predicate
	sourceAlias string

	matched    *matchedClause
	notMatched bool
	bySource   BySourceAction

	logger *zap.Logger
	now    func() time.Time
	errs   []string
}

// New starts a merge of src into t.
func New(t *table.Table, src *source.Batch) *Builder {
	return &Builder{
		table:       t,
		source:      src,
		sourceAlias: DefaultSourceAlias,
	}
}

// On sets the join predicate.
func (b *Builder) On(p Predicate) *Builder {
	b.predicate = &p
	return b
}

// WithSourceAlias sets the alias source columns are qualified with.
func (b *Builder) WithSourceAlias(alias string) *Builder {
	b.sourceAlias = alias
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the merge timestamp source. Defaults to the table's
// clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) setMatched(c *matchedClause) *Builder {
	if b.matched != nil {
		b.errs = append(b.errs, fmt.Sprintf("matched clause already set to %s", b.matched))
		return b
	}
	b.matched = c
	return b
}

// WhenMatchedUpdateAll overwrites every target column the source also has.
func (b *Builder) WhenMatchedUpdateAll() *Builder {
	return b.setMatched(&matchedClause{kind: updateAll})
}

// WhenMatchedUpdate overwrites the named columns from the same-named source
// columns.
func (b *Builder) WhenMatchedUpdate(columns ...string) *Builder {
	if len(columns) == 0 {
		b.errs = append(b.errs, "matched update needs at least one column")
		return b
	}
	return b.setMatched(&matchedClause{kind: updateColumns, columns: columns})
}

// WhenMatchedDelete deletes matched target rows.
func (b *Builder) WhenMatchedDelete() *Builder {
	return b.setMatched(&matchedClause{kind: deleteMatched})
}

// WhenNotMatchedInsertAll inserts source rows that match no target row.
func (b *Builder) WhenNotMatchedInsertAll() *Builder {
	b.notMatched = true
	return b
}

// WhenNotMatchedBySource sets the action for target rows no source row
// matches.
func (b *Builder) WhenNotMatchedBySource(a BySourceAction) *Builder {
	b.bySource = a
	return b
}

// Describe renders the configured clauses, for logs and commitInfo.
func (b *Builder) Describe() map[string]string {
	out := map[string]string{
		"sourceAlias":        b.sourceAlias,
		"notMatchedBySource": b.bySource.String(),
	}
	if b.predicate != nil {
		out["predicate"] = b.predicate.String()
	}
	if b.matched != nil {
		out["matched"] = b.matched.String()
	}
	if b.notMatched {
		out["notMatched"] = "insert all"
	}
	return out
}

func (b *Builder) validate() error {
	if len(b.errs) > 0 {
		return fmt.Errorf("%s", strings.Join(b.errs, "; "))
	}
	if b.table == nil {
		return fmt.Errorf("merge target table is nil")
	}
	if b.source == nil {
		return fmt.Errorf("merge source is nil")
	}
	if b.predicate == nil {
		return fmt.Errorf("merge predicate is not set")
	}
	if strings.TrimSpace(b.sourceAlias) == "" || strings.Contains(b.sourceAlias, ".") {
		return fmt.Errorf("invalid source alias %q", b.sourceAlias)
	}
	if b.matched == nil && !b.notMatched && b.bySource == Ignore {
		return fmt.Errorf("merge has no when-matched, when-not-matched or when-not-matched-by-source clause")
	}
	return nil
}

func (b *Builder) log() *zap.Logger {
	return logger.OrNop(b.logger).With(
		zap.String("component", "merge"),
		zap.String("location", b.table.Location().String()))
}

func (b *Builder) clock() func() time.Time {
	if b.now != nil {
		return b.now
	}
	return b.table.Now
}
