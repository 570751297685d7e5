package syncrun

import "sync"

// ownerLocks enforces one active run per owner. A second trigger fails fast
// instead of queuing.
type ownerLocks struct {
	mu     sync.Mutex
	active map[uint]bool
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{active: make(map[uint]bool)}
}

func (l *ownerLocks) acquire(ownerID uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[ownerID] {
		return false
	}
	l.active[ownerID] = true
	return true
}

func (l *ownerLocks) release(ownerID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, ownerID)
}
