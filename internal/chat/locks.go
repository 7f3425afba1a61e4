package chat

import (
	"context"
	"sync"
)

// targetLocks hands out one lock per target key. Waiters queue on a
// buffered channel, so acquisition honours context cancellation.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]*targetLock
}

type targetLock struct {
	slot chan struct{}
	refs int
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[string]*targetLock)}
}

func (t *targetLocks) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	l := t.locks[key]
	if l == nil {
		l = &targetLock{slot: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
		return func() {
			<-l.slot
			t.release(key, l)
		}, nil
	case <-ctx.Done():
		t.release(key, l)
		return nil, ctx.Err()
	}
}

func (t *targetLocks) release(key string, l *targetLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

func (t *targetLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
