// Package merge replays a transaction's schema additions onto the latest
// committed catalog snapshot.
//
// Every element kind has an ordered list of rules. The first rule whose
// condition holds decides the outcome: accept as a no-op, accept with
// adjustments, or reject with a ConflictError. When no rule matches, the
// change is applied as is and the fact is logged. When the committed parent
// of an element is the very same object the transaction forked from, no
// rule can matter and the change is applied directly (the shortcut).
//
// Elements are merged bottom-up: columns, doc part indexes, doc parts,
// logical indexes, collections, databases.
package merge

import (
	"log/slog"

	"github.com/andreyvit/docrel/catalog"
)

// Report counts how each element was merged.
type Report struct {
	Shortcuts int
	Rules     map[string]int
	Fallbacks int
}

// StrategiesUsed counts elements that were not merged via the shortcut.
func (r *Report) StrategiesUsed() int {
	n := r.Fallbacks
	for _, c := range r.Rules {
		n += c
	}
	return n
}

func (r *Report) logValue() []any {
	return []any{"shortcuts", r.Shortcuts, "rules", r.Rules, "fallbacks", r.Fallbacks}
}

type Options struct {
	Logger *slog.Logger
}

type Engine struct {
	logger *slog.Logger
}

func New(opt Options) *Engine {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Engine{logger: opt.Logger}
}

// Merge applies the changes recorded in ms onto committed and returns the
// resulting snapshot, which is committed itself when ms has no changes.
func (e *Engine) Merge(committed *catalog.Snapshot, ms *catalog.MutableSnapshot) (*catalog.Snapshot, *Report, error) {
	m := &merger{
		logger: e.logger,
		report: &Report{Rules: make(map[string]int)},
	}
	sb := catalog.NewSnapshotBuilder(committed)
	shortcut := committed == ms.Origin()
	for _, ch := range ms.ChangedDatabases() {
		s := &databaseStep{m: m, mdb: ch.Element, change: ch.Change, snap: sb}
		if r := run(m, &databaseRules, shortcut, s); !r.OK() {
			e.logger.Debug("merge: conflict", append(m.report.logValue(), "err", r.conflict)...)
			return nil, m.report, r.Err()
		}
	}
	result := sb.Build()
	e.logger.Debug("merge: done", append(m.report.logValue(), "from", committed.Version(), "to", result.Version())...)
	return result, m.report, nil
}

type merger struct {
	logger *slog.Logger
	report *Report
}

type rule[S any] struct {
	id      string
	applies func(s *S) bool
	execute func(s *S) Result
}

type ruleSet[S any] struct {
	kind     string
	rules    []rule[S]
	apply    func(s *S) Result
	describe func(s *S) string
}

func run[S any](m *merger, rs *ruleSet[S], shortcut bool, s *S) Result {
	if shortcut {
		m.report.Shortcuts++
		return rs.apply(s)
	}
	for _, r := range rs.rules {
		if r.applies(s) {
			m.report.Rules[r.id]++
			return r.execute(s)
		}
	}
	m.report.Fallbacks++
	m.logger.Debug("merge: no rule matched, applying as is", "kind", rs.kind, "element", rs.describe(s))
	return rs.apply(s)
}

// Rules returns the rule ids of every element kind in evaluation order.
func Rules() map[string][]string {
	return map[string][]string{
		fieldRules.kind:        fieldRules.ids(),
		scalarRules.kind:       scalarRules.ids(),
		docPartIndexRules.kind: docPartIndexRules.ids(),
		docPartRules.kind:      docPartRules.ids(),
		indexRules.kind:        indexRules.ids(),
		collectionRules.kind:   collectionRules.ids(),
		databaseRules.kind:     databaseRules.ids(),
	}
}

func (rs *ruleSet[S]) ids() []string {
	out := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.id
	}
	return out
}
