package engine

import (
	"sync"

	"github.com/ospreybot/osprey/internal/channel"
)

// keyLocks serializes message handling per conversation without serializing
// unrelated conversations. Entries are reference counted and removed when
// the last holder unlocks.
type keyLocks struct {
	mu    sync.Mutex
	locks map[channel.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[channel.Key]*keyLock)}
}

// Lock blocks until the conversation's lock is held and returns the unlock
// function.
func (k *keyLocks) Lock(key channel.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
