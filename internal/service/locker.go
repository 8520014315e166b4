package service

import (
	"context"
	"fmt"
	"sync"
)

type lockKey struct {
	collection string
	itemID     uint64
}

type itemLock struct {
	rw   sync.RWMutex
	refs int
}

// heldLocks is an immutable list of the item locks held by a call chain.
type heldLocks struct {
	key  lockKey
	next *heldLocks
}

type heldLocksKey struct{}

func (h *heldLocks) contains(k lockKey) bool {
	for n := h; n != nil; n = n.next {
		if n.key == k {
			return true
		}
	}
	return false
}

// ItemLocker serializes actions per (collection, item). The context returned
// by Lock remembers the held lock, so a call chain that tries to take the same
// item again is rejected with ErrReentrantCall instead of deadlocking.
type ItemLocker struct {
	mu    sync.Mutex
	locks map[lockKey]*itemLock
}

// NewItemLocker creates an empty locker.
func NewItemLocker() *ItemLocker {
	return &ItemLocker{locks: make(map[lockKey]*itemLock)}
}

func (l *ItemLocker) acquire(k lockKey) *itemLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[k]
	if !ok {
		lk = &itemLock{}
		l.locks[k] = lk
	}
	lk.refs++
	return lk
}

func (l *ItemLocker) release(k lockKey, lk *itemLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, k)
	}
}

func heldFrom(ctx context.Context) *heldLocks {
	h, _ := ctx.Value(heldLocksKey{}).(*heldLocks)
	return h
}

// Holds reports whether ctx belongs to a call chain holding the item lock.
func (l *ItemLocker) Holds(ctx context.Context, collection string, itemID uint64) bool {
	return heldFrom(ctx).contains(lockKey{collection, itemID})
}

// Lock takes the exclusive lock of an item.
func (l *ItemLocker) Lock(ctx context.Context, collection string, itemID uint64) (context.Context, func(), error) {
	k := lockKey{collection, itemID}
	held := heldFrom(ctx)
	if held.contains(k) {
		return ctx, nil, fmt.Errorf("%w: item %s/%d is already being mutated", ErrReentrantCall, collection, itemID)
	}

	lk := l.acquire(k)
	lk.rw.Lock()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lk.rw.Unlock()
			l.release(k, lk)
		})
	}
	return context.WithValue(ctx, heldLocksKey{}, &heldLocks{key: k, next: held}), unlock, nil
}

// RLock takes the shared lock of an item. It is a no-op when ctx already
// holds the exclusive lock.
func (l *ItemLocker) RLock(ctx context.Context, collection string, itemID uint64) func() {
	k := lockKey{collection, itemID}
	if heldFrom(ctx).contains(k) {
		return func() {}
	}

	lk := l.acquire(k)
	lk.rw.RLock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.rw.RUnlock()
			l.release(k, lk)
		})
	}
}

// Len returns the number of items currently locked or waited on.
func (l *ItemLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
