package acquisition

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks hands out one weighted semaphore of size one per
// (symbol, timeframe) key. Entries are reference counted and dropped when
// no caller holds or waits on them.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[string]*keyLock)}
}

// acquire blocks until key is free or ctx ends. The returned release func
// is safe to call more than once.
func (l *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyLock{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

func (l *keyLocks) unref(key string, e *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 && l.entries[key] == e {
		delete(l.entries, key)
	}
}

// inFlight returns the number of keys currently held or waited on.
func (l *keyLocks) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
