package conversation

import "sync"

// contactLocks serializes all work for a single contact. The session
// read-modify-write cycle is a critical section; locking per contact keeps
// cross-contact parallelism intact.
type contactLocks struct {
	locks sync.Map // contactID -> *sync.Mutex
}

func (l *contactLocks) lock(contactID string) *sync.Mutex {
	lockAny, _ := l.locks.LoadOrStore(contactID, &sync.Mutex{})
	mu := lockAny.(*sync.Mutex)
	mu.Lock()
	return mu
}
