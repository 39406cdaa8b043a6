package engine

import (
	"context"
	"sync"
)

// WorkspaceLock serializes pipeline execution per workspace. Acquire blocks
// until any prior holder of the same key releases; waiters are served in
// FIFO order. Different keys never block each other.
//
// This is a single-process primitive: a multi-process deployment must route
// all execution for a workspace through the same lock instance.
type WorkspaceLock struct {
	mu    sync.Mutex
	locks map[string]*keyState
}

type keyState struct {
	held    bool
	waiters []chan struct{}
}

// NewWorkspaceLock creates an empty WorkspaceLock.
func NewWorkspaceLock() *WorkspaceLock {
	return &WorkspaceLock{
		locks: make(map[string]*keyState),
	}
}

// Acquire blocks until the lock for key is available, then returns a release
// function. The caller must invoke release exactly once, typically via defer
// so the lock is freed even when the critical section fails.
// Returns ctx.Err() if the context is cancelled while waiting.
func (l *WorkspaceLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	state, ok := l.locks[key]
	if !ok {
		state = &keyState{}
		l.locks[key] = state
	}

	if !state.held {
		state.held = true
		l.mu.Unlock()
		return l.releaseFunc(key), nil
	}

	ready := make(chan struct{})
	state.waiters = append(state.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return l.releaseFunc(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// The lock was handed to us while we were cancelling; keep it.
			l.mu.Unlock()
			return l.releaseFunc(key), nil
		default:
		}
		for i, w := range state.waiters {
			if w == ready {
				state.waiters = append(state.waiters[:i], state.waiters[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (l *WorkspaceLock) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.release(key)
		})
	}
}

// release hands the lock to the oldest waiter, or frees the key entirely.
func (l *WorkspaceLock) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.locks[key]
	if !ok {
		return
	}
	if len(state.waiters) > 0 {
		next := state.waiters[0]
		state.waiters = state.waiters[1:]
		close(next)
		return
	}
	delete(l.locks, key)
}
