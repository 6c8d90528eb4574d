package service

import (
	"sync"

	"github.com/lyzr/datavault/common/did"
)

// ownerLocks serializes mutating operations per owner within this process,
// so two requests for one owner cannot both pass the quota check
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*ownerLock)}
}

// lock blocks until owner is free and returns the matching unlock
func (l *ownerLocks) lock(owner string) func() {
	owner = did.Normalize(owner)

	l.mu.Lock()
	entry, ok := l.locks[owner]
	if !ok {
		entry = &ownerLock{}
		l.locks[owner] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}

func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
