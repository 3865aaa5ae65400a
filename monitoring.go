package docrel

import (
	"context"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/andreyvit/docrel/merge"
)

type dbMetrics struct {
	set *metrics.Set

	commits        *metrics.Counter
	conflicts      *metrics.Counter
	retries        *metrics.Counter
	rows           *metrics.Counter
	schemaChanges  *metrics.Counter
	shortcuts      *metrics.Counter
	rules          *metrics.Counter
	fallbacks      *metrics.Counter
	commitDuration *metrics.Histogram
}

func newDBMetrics(db *DB) *dbMetrics {
	s := metrics.NewSet()
	m := &dbMetrics{
		set:            s,
		commits:        s.NewCounter("docrel_commits_total"),
		conflicts:      s.NewCounter("docrel_commit_conflicts_total"),
		retries:        s.NewCounter("docrel_commit_retries_total"),
		rows:           s.NewCounter("docrel_rows_written_total"),
		schemaChanges:  s.NewCounter("docrel_schema_changes_total"),
		shortcuts:      s.NewCounter("docrel_merge_shortcuts_total"),
		rules:          s.NewCounter("docrel_merge_rules_total"),
		fallbacks:      s.NewCounter("docrel_merge_fallbacks_total"),
		commitDuration: s.NewHistogram("docrel_commit_duration_seconds"),
	}
	s.NewGauge("docrel_catalog_version", func() float64 {
		return float64(db.Snapshot().Version())
	})
	s.NewGauge("docrel_open_transactions", func() float64 {
		return float64(db.openTxnCount())
	})
	s.NewGauge("docrel_rid_refills_total", func() float64 {
		return float64(db.alloc.Stats().Refills)
	})
	s.NewGauge("docrel_rid_refill_failures_total", func() float64 {
		return float64(db.alloc.Stats().Failures)
	})
	return m
}

func (m *dbMetrics) recordMerge(r *merge.Report) {
	m.shortcuts.Add(r.Shortcuts)
	m.rules.Add(r.StrategiesUsed() - r.Fallbacks)
	m.fallbacks.Add(r.Fallbacks)
}

func (m *dbMetrics) recordCommit(start time.Time, changes, rows int) {
	m.commits.Inc()
	m.schemaChanges.Add(changes)
	m.rows.Add(rows)
	m.commitDuration.UpdateDuration(start)
}

// WriteMetrics writes this database's metrics in Prometheus text format.
func (db *DB) WriteMetrics(w io.Writer) {
	db.metrics.set.WritePrometheus(w)
}

type Stats struct {
	CatalogVersion uint64
	Commits        uint64
	Conflicts      uint64
	Retries        uint64
	RowsWritten    uint64
	SchemaChanges  uint64
	Shortcuts      uint64
	Rules          uint64
	Fallbacks      uint64
	RidKeys        int
	RidRefills     uint64
	RidFailures    uint64
	OpenTxns       int
}

func (db *DB) Stats() Stats {
	m := db.metrics
	rs := db.alloc.Stats()
	return Stats{
		CatalogVersion: db.Snapshot().Version(),
		Commits:        m.commits.Get(),
		Conflicts:      m.conflicts.Get(),
		Retries:        m.retries.Get(),
		RowsWritten:    m.rows.Get(),
		SchemaChanges:  m.schemaChanges.Get(),
		Shortcuts:      m.shortcuts.Get(),
		Rules:          m.rules.Get(),
		Fallbacks:      m.fallbacks.Get(),
		RidKeys:        rs.Keys,
		RidRefills:     rs.Refills,
		RidFailures:    rs.Failures,
		OpenTxns:       db.openTxnCount(),
	}
}

// DocPartStats lists row counts of every doc part. Only the built-in
// storage backends support it.
func (db *DB) DocPartStats(ctx context.Context) ([]DocPartStats, int64, error) {
	if db.kv == nil {
		return nil, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return db.kv.docPartStats(db.Snapshot())
}
