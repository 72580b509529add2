package locks

import "sync"

// Registry hands out one mutex per instance id. Every state transition for an
// instance (progress update, branch advance, completion, expiry, reroll)
// must run inside Do for that id, making the critical section the single
// mutation point for the instance. Callers hold at most one instance lock at
// a time.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*refLock)}
}

// Do runs fn while holding the lock for id. Entries are reference counted and
// removed when the last holder releases, so the map does not grow with the
// lifetime total of instances.
func (r *Registry) Do(id string, fn func() error) error {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &refLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	err := fn()
	l.Unlock()

	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, id)
	}
	r.mu.Unlock()
	return err
}

// Len returns the number of currently held or contended locks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
