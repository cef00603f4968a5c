package merge

import (
	"fmt"
	"strings"
)

// Condition is one equality between a target column and a source column.
type Condition struct {
	// Target is a target column, optionally qualified as target.<col>.
	Target string
	// Source is a source column qualified with the source alias.
	Source string
}

// Predicate is a conjunction of column equalities.
type Predicate struct {
	conds []Condition
}

// Eq returns the predicate target = source. Example:
//
//	merge.Eq("__id", "source.__id")
func Eq(target, source string) Predicate {
	return Predicate{conds: []Condition{{Target: target, Source: source}}}
}

// And returns the conjunction of p and other.
func (p Predicate) And(other Predicate) Predicate {
	conds := make([]Condition, 0, len(p.conds)+len(other.conds))
	conds = append(conds, p.conds...)
	conds = append(conds, other.conds...)
	return Predicate{conds: conds}
}

// Conditions returns the equalities of the predicate.
func (p Predicate) Conditions() []Condition {
	out := make([]Condition, len(p.conds))
	copy(out, p.conds)
	return out
}

func (p Predicate) String() string {
	parts := make([]string, len(p.conds))
	for i, c := range p.conds {
		parts[i] = c.Target + " = " + c.Source
	}
	return strings.Join(parts, " AND ")
}

// joinKey is a resolved predicate: the bare column names on each side.
type joinKey struct {
	target []string
	source []string
}

// resolve strips qualifiers and checks them against the aliases.
func (p Predicate) resolve(sourceAlias string) (joinKey, error) {
	if len(p.conds) == 0 {
		return joinKey{}, fmt.Errorf("merge predicate is empty")
	}
	var k joinKey
	for _, c := range p.conds {
		tcol, err := unqualify(c.Target, targetAlias, false)
		if err != nil {
			return joinKey{}, err
		}
		scol, err := unqualify(c.Source, sourceAlias, true)
		if err != nil {
			return joinKey{}, err
		}
		k.target = append(k.target, tcol)
		k.source = append(k.source, scol)
	}
	return k, nil
}

const targetAlias = "target"

func unqualify(name, alias string, required bool) (string, error) {
	qualifier, col, found := strings.Cut(name, ".")
	if !found {
		if required {
			return "", fmt.Errorf("source column %q must be qualified with alias %q", name, alias)
		}
		return name, nil
	}
	if qualifier != alias {
		return "", fmt.Errorf("column %q uses unknown alias %q, expected %q", name, qualifier, alias)
	}
	if col == "" {
		return "", fmt.Errorf("column %q has an empty name", name)
	}
	return col, nil
}
