// Package locks provides mutual exclusion for document transitions and conflict
// domains. Locks are held only around the check-and-commit database work, never
// across a ledger call.
package locks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Release gives up a held lock.
type Release func()

// Locker acquires named locks. AcquireAll takes several names in a global order so
// callers that need more than one lock cannot deadlock each other.
type Locker interface {
	Acquire(ctx context.Context, name string) (Release, error)
	AcquireAll(ctx context.Context, names ...string) (Release, error)
}

// Names of the conflict-domain and document locks.
func DocumentLock(id string) string      { return "doc:" + id }
func ProjectPeriodLock(id string) string { return "mrv-period:" + id }
func SerialLock(projectID string) string { return "serials:" + projectID }

// SpatialLock serialises every check-and-commit that relies on the set of active
// project geometries.
const SpatialLock = "pdd-spatial"

func ordered(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func acquireAll(ctx context.Context, l Locker, names []string) (Release, error) {
	var held []Release
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, n := range ordered(names) {
		rel, err := l.Acquire(ctx, n)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, rel)
	}
	return releaseAll, nil
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted and
// dropped when unused.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*localEntry{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string) (Release, error) {
	l.mu.Lock()
	e, ok := l.locks[name]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[name] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(name, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(name, e)
		})
	}, nil
}

func (l *LocalLocker) AcquireAll(ctx context.Context, names ...string) (Release, error) {
	return acquireAll(ctx, l, names)
}

func (l *LocalLocker) unref(name string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
	l.mu.Unlock()
}

// size is the number of live lock entries.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// retryDelay is the poll interval of lease locks.
const retryDelay = 5 * time.Millisecond
