// Package syncutil holds locking helpers the standard library lacks.
package syncutil

import "context"

// Mutex is a mutual exclusion lock whose waiters can give up when their
// context ends. The zero value is not usable; call NewMutex.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// LockContext blocks until the lock is held or ctx ends. On success the
// returned func releases the lock and must be called exactly once.
func (m *Mutex) LockContext(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-m.ch:
		return m.unlock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock takes the lock only if it is free.
func (m *Mutex) TryLock() (func(), bool) {
	select {
	case <-m.ch:
		return m.unlock, true
	default:
		return nil, false
	}
}

func (m *Mutex) unlock() {
	m.ch <- struct{}{}
}
