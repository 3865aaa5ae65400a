// Package rid allocates row identifiers per (database, collection, path).
//
// Identifiers are issued from a locally cached pool. When a pool runs dry
// the Allocator synchronously reserves a new block from a durable
// Authority, so identifiers stay unique across restarts. Gaps are allowed.
package rid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/docrel/pathref"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("row id authority unavailable")

// Key selects an independent identifier sequence.
type Key struct {
	Database   string
	Collection string
	Path       *pathref.PathRef
}

func (k Key) String() string {
	return fmt.Sprintf("%s.%s/%v", k.Database, k.Collection, k.Path)
}

type stateKey struct {
	database   string
	collection string
	path       string
}

func (k Key) state() stateKey {
	return stateKey{k.Database, k.Collection, k.Path.Key()}
}

// Authority durably tracks the upper bound of reserved identifiers.
type Authority interface {
	// Reserve raises the bound for key by n and returns the new bound.
	// Identifiers in (bound-n, bound] then belong to the caller.
	Reserve(ctx context.Context, key Key, n int64) (int64, error)
}

// PoolHeuristic decides how many identifiers to reserve.
type PoolHeuristic struct {
	Pool       int64
	LoadFactor float64
}

// Evaluate returns how many more identifiers to reserve given how many are
// used and how many are cached (reserved so far). It returns zero while the
// free part of the pool is at least LoadFactor*Pool, and otherwise tops the
// free part up to Pool. A deficit (used above cached) is covered as well.
func (h PoolHeuristic) Evaluate(used, cached int64) int64 {
	free := cached - used
	if float64(free) >= h.LoadFactor*float64(h.Pool) {
		return 0
	}
	return h.Pool - free
}

type Options struct {
	Pool       int64
	LoadFactor float64

	// Attempts bounds how many times a failed reservation is retried.
	Attempts int
	// Backoff is the minimum delay between attempts.
	Backoff time.Duration

	Logger *slog.Logger
}

const (
	DefaultPool       = 1000
	DefaultLoadFactor = 0.9
	DefaultAttempts   = 5
	DefaultBackoff    = 20 * time.Millisecond
)

type Allocator struct {
	authority Authority
	heuristic PoolHeuristic
	attempts  int
	backoff   time.Duration
	logger    *slog.Logger

	states *xsync.MapOf[stateKey, *keyState]

	refills  atomic.Uint64
	failures atomic.Uint64
}

type keyState struct {
	mu       sync.Mutex
	used     int64
	reserved int64
	ready    bool
}

func New(authority Authority, opt Options) *Allocator {
	if opt.Pool <= 0 {
		opt.Pool = DefaultPool
	}
	if opt.LoadFactor <= 0 || opt.LoadFactor > 1 {
		opt.LoadFactor = DefaultLoadFactor
	}
	if opt.Attempts <= 0 {
		opt.Attempts = DefaultAttempts
	}
	if opt.Backoff <= 0 {
		opt.Backoff = DefaultBackoff
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Allocator{
		authority: authority,
		heuristic: PoolHeuristic{opt.Pool, opt.LoadFactor},
		attempts:  opt.Attempts,
		backoff:   opt.Backoff,
		logger:    opt.Logger,
		states:    xsync.NewMapOf[stateKey, *keyState](),
	}
}

// NextRid returns the next identifier for key. Identifiers for one key are
// strictly increasing and never reused, even across goroutines.
func (a *Allocator) NextRid(ctx context.Context, key Key) (int64, error) {
	st, _ := a.states.LoadOrCompute(key.state(), func() *keyState {
		return &keyState{}
	})
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.ready || st.used >= st.reserved {
		if err := a.refill(ctx, key, st); err != nil {
			return 0, err
		}
	}
	st.used++
	return st.used, nil
}

func (a *Allocator) refill(ctx context.Context, key Key, st *keyState) error {
	n := a.heuristic.Evaluate(st.used, st.reserved)
	if n <= 0 {
		n = 1
	}

	limiter := rate.NewLimiter(rate.Every(a.backoff), 1)
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		bound, err := a.authority.Reserve(ctx, key, n)
		if err == nil && bound <= st.used {
			err = fmt.Errorf("authority returned bound %d not above used %d", bound, st.used)
		}
		if err == nil {
			// only (bound-n, bound] is ours; the authority may have
			// granted the range in between to someone else
			st.used = max(st.used, bound-n)
			st.ready = true
			st.reserved = bound
			a.refills.Add(1)
			a.logger.Debug("rid: reserved", "key", key, "count", n, "bound", bound)
			return nil
		}
		lastErr = err
		a.logger.Warn("rid: reservation failed", "key", key, "attempt", attempt, "err", err)
	}
	a.failures.Add(1)
	return &UnavailableError{Key: key, Err: lastErr}
}

// Reserved returns the cached upper bound for key, zero if none yet.
func (a *Allocator) Reserved(key Key) int64 {
	st, ok := a.states.Load(key.state())
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.reserved
}

type Stats struct {
	Keys     int
	Refills  uint64
	Failures uint64
}

func (a *Allocator) Stats() Stats {
	return Stats{
		Keys:     a.states.Size(),
		Refills:  a.refills.Load(),
		Failures: a.failures.Load(),
	}
}

type UnavailableError struct {
	Key Key
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %v: %v", ErrUnavailable, e.Key, e.Err)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// MemoryAuthority keeps bounds in memory; useful for tests and ephemeral
// databases.
type MemoryAuthority struct {
	mu     sync.Mutex
	bounds map[stateKey]int64
}

func NewMemoryAuthority() *MemoryAuthority {
	return &MemoryAuthority{bounds: make(map[stateKey]int64)}
}

func (m *MemoryAuthority) Reserve(ctx context.Context, key Key, n int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sk := key.state()
	m.bounds[sk] += n
	return m.bounds[sk], nil
}

func (m *MemoryAuthority) Bound(key Key) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bounds[key.state()]
}
