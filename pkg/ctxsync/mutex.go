package ctxsync

import (
	"context"
)

// NewMutex creates a new instance of Mutex.
func NewMutex() *Mutex {
	return &Mutex{
		unlock: make(chan struct{}, 1),
	}
}

// A Mutex is a mutual exclusion lock whose Lock can be aborted by a
// context, unlike [sync.Mutex]. adapter/cursor guards a Cursor's mutable
// iteration state with one so a caller stuck waiting on a cancelled context
// doesn't block forever; [CompactionGate] pairs one with a [Cond] as the
// lock compaction's condition variable is checked under.
type Mutex struct {
	unlock chan struct{}
}

// Lock locks the mutex with a context.Background()
func (m *Mutex) Lock() {
	_ = m.LockWithContext(context.Background())
}

// LockWithContext locks until Unlock is called or context is cancelled
func (m *Mutex) LockWithContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.unlock <- struct{}{}:
		return nil
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	select {
	case m.unlock <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	select {
	case <-m.unlock:
	default:
		panic("ctxsync: unlock of unlocked mutex")
	}
}
