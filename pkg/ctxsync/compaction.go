package ctxsync

import "context"

// CompactionGate is the broadcast-once-per-compaction rendezvous
// adapter/persistence builds [Persistence.WaitCompaction] on: a successful
// PersistCachedDatabase call signals the gate, waking every goroutine
// currently blocked in Wait at once. It is a [Mutex] paired with a [Cond]
// under the vocabulary compaction actually needs, rather than the generic
// lock/condition pair persistence.go used to wire by hand.
type CompactionGate struct {
	mu   *Mutex
	cond *Cond
}

// NewCompactionGate returns a ready-to-use CompactionGate.
func NewCompactionGate() *CompactionGate {
	mu := NewMutex()
	return &CompactionGate{mu: mu, cond: NewCond(mu)}
}

// Wait blocks until the next Signal call, or ctx is done.
func (g *CompactionGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cond.WaitWithContext(ctx)
}

// Signal wakes every goroutine currently blocked in Wait. A Signal with no
// waiters is not remembered; a Wait call that starts after Signal returns
// blocks until the next one.
func (g *CompactionGate) Signal() {
	g.cond.Broadcast()
}
