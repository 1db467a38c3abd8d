// Package keylock provides mutual exclusion per string key.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key. Entries are dropped once no goroutine holds or waits on
// them, so memory tracks the number of keys in use rather than every key ever seen.
// The zero value is not usable; call New.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is held and returns the function that releases it.
// The returned function must be called exactly once.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys are currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
