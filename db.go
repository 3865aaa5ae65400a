package docrel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
	"github.com/andreyvit/docrel/merge"
	"github.com/andreyvit/docrel/rid"
)

const trackTxns = true

const DefaultMaxCommitAttempts = 8

// DB stores schemaless documents in relational form. The schema catalog
// grows as documents arrive; transactions extend private forks of it and
// merge them back on commit.
type DB struct {
	backend Backend
	kv      *kvBackend // nil when a custom Backend is used
	alloc   *rid.Allocator
	merger  *merge.Engine
	logger  *slog.Logger

	maxCommitAttempts int

	committed atomic.Pointer[catalog.Snapshot]
	dbLocks   *xsync.MapOf[string, *sync.RWMutex]

	metrics *dbMetrics

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	Logger *slog.Logger

	// InMemory keeps everything in memory; path is ignored.
	InMemory    bool
	IsTesting   bool
	MmapSize    int
	OpenTimeout time.Duration

	// Pool and LoadFactor tune row id reservation, see rid.PoolHeuristic.
	Pool       int64
	LoadFactor float64

	// MaxCommitAttempts bounds how many times Update runs its function.
	MaxCommitAttempts int

	RefillAttempts int
	RefillBackoff  time.Duration

	// Backend replaces the built-in storage. Authority defaults to the
	// backend when it implements rid.Authority.
	Backend   Backend
	Authority rid.Authority
}

func Open(path string, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MaxCommitAttempts <= 0 {
		opt.MaxCommitAttempts = DefaultMaxCommitAttempts
	}

	db := &DB{
		backend:           opt.Backend,
		logger:            opt.Logger,
		maxCommitAttempts: opt.MaxCommitAttempts,
		dbLocks:           xsync.NewMapOf[string, *sync.RWMutex](),
		merger:            merge.New(merge.Options{Logger: opt.Logger}),
	}
	if db.backend == nil {
		var st storage
		if opt.InMemory {
			st = newMemStorage()
		} else {
			bst, err := openBoltStorage(path, opt)
			if err != nil {
				return nil, err
			}
			st = bst
		}
		db.kv = newKVBackend(st, opt.Logger)
		db.backend = db.kv
	}

	authority := opt.Authority
	if authority == nil {
		if a, ok := db.backend.(rid.Authority); ok {
			authority = a
		} else {
			db.backend.Close()
			return nil, fmt.Errorf("docrel: backend %T cannot reserve row ids and no Authority given", db.backend)
		}
	}
	db.alloc = rid.New(authority, rid.Options{
		Pool:       opt.Pool,
		LoadFactor: opt.LoadFactor,
		Attempts:   opt.RefillAttempts,
		Backoff:    opt.RefillBackoff,
		Logger:     opt.Logger,
	})

	snap, err := db.backend.LoadCatalog(context.Background())
	if err != nil {
		db.backend.Close()
		return nil, err
	}
	db.committed.Store(snap)
	db.metrics = newDBMetrics(db)
	return db, nil
}

func (db *DB) Close() error {
	if n := db.openTxnCount(); n > 0 {
		db.logger.Warn("docrel: closing with open transactions", "count", n)
	}
	return db.backend.Close()
}

// Snapshot returns the currently published catalog.
func (db *DB) Snapshot() *catalog.Snapshot {
	return db.committed.Load()
}

// Allocator returns the row id allocator shared by all transactions.
func (db *DB) Allocator() *rid.Allocator {
	return db.alloc
}

// Update runs fn in a new transaction and commits it. When the commit hits
// a schema merge conflict, fn runs again from scratch against the newer
// catalog, up to MaxCommitAttempts times.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	for attempt := 1; ; attempt++ {
		tx := db.Begin()
		err := safelyCall(fn, tx)
		if err == nil {
			err = tx.Commit(ctx)
		} else {
			tx.Abort()
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSchemaMergeConflict) || attempt >= db.maxCommitAttempts {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		db.metrics.retries.Inc()
		db.logger.Info("docrel: retrying after schema conflict", "tx", tx.id, "attempt", attempt, "err", err)
	}
}

// Insert stores one document in its own transaction and returns its did.
func (db *DB) Insert(ctx context.Context, database, collection string, doc *docval.Document) (int64, error) {
	var did int64
	err := db.Update(ctx, func(tx *Tx) error {
		var err error
		did, err = tx.Insert(ctx, database, collection, doc)
		return err
	})
	return did, err
}

// Get reads document did back from the backend.
func (db *DB) Get(ctx context.Context, database, collection string, did int64) (*docval.Document, error) {
	l := db.dbLock(database)
	l.RLock()
	defer l.RUnlock()

	cd, err := db.backend.ReadDocument(ctx, db.committed.Load(), database, collection, did)
	if err != nil {
		return nil, err
	}
	return Reverse(cd, did)
}

func (db *DB) dbLock(name string) *sync.RWMutex {
	l, _ := db.dbLocks.LoadOrCompute(name, func() *sync.RWMutex {
		return new(sync.RWMutex)
	})
	return l
}

// lockDatabases takes the commit locks of names in sorted order.
func (db *DB) lockDatabases(names []string) func() {
	locks := make([]*sync.RWMutex, len(names))
	for i, name := range names {
		locks[i] = db.dbLock(name)
		locks[i].Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (db *DB) commit(ctx context.Context, tx *Tx) error {
	start := time.Now()
	names := tx.touchedDatabases()
	if len(names) == 0 {
		return nil
	}
	unlock := db.lockDatabases(names)
	defer unlock()

	base := db.committed.Load()
	next, report, err := db.merger.Merge(base, tx.schema)
	if report != nil {
		db.metrics.recordMerge(report)
	}
	if err != nil {
		db.metrics.conflicts.Inc()
		return err
	}

	changes := diffSnapshots(base, next)
	if len(changes) == 0 {
		// equivalent schema; publishing it would bump the version without
		// a log record behind it
		next = base
	}
	batches, err := resolveBatches(next, tx.collectionData())
	if err != nil {
		return err
	}
	if err := db.backend.Apply(ctx, changes, batches); err != nil {
		return err
	}
	if next != base {
		db.publish(base, next, names)
	}

	var rows int
	for _, b := range batches {
		rows += len(b.Rows)
	}
	db.metrics.recordCommit(start, len(changes), rows)
	db.logger.Debug("docrel: committed", "tx", tx.id, "version", next.Version(), "changes", len(changes), "rows", rows, "shortcuts", report.Shortcuts, "strategies", report.StrategiesUsed())
	return nil
}

// publish swaps in next. Commits to other databases may have published in
// the meantime; their databases are kept and ours grafted on top, which is
// safe because ours are locked.
func (db *DB) publish(base, next *catalog.Snapshot, names []string) {
	for {
		cur := db.committed.Load()
		candidate := next
		if cur != base {
			sb := catalog.NewSnapshotBuilder(cur)
			for _, name := range names {
				if d := next.Database(name); d != nil {
					sb.PutDatabase(d)
				}
			}
			candidate = sb.Build()
		}
		if db.committed.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func (db *DB) addTx(tx *Tx) {
	if !trackTxns {
		return
	}
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	if !trackTxns {
		return
	}
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) openTxnCount() int {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	return len(db.txns)
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms\n", tx.id, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms:\n%s", tx.id, ms, tx.stack)
		}
	}

	return buf.String()
}
