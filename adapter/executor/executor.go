// Package executor implements [domain.Executor]: a single-slot serialized
// task queue that, until its collection finishes loading, buffers
// tasks instead of running them so reads and writes issued during startup
// replay in the order they were received.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"satchel/domain"
)

// Executor implements [domain.Executor].
type Executor struct {
	mu         sync.Mutex
	ready      atomic.Bool
	bufferExec chan struct{}
	singleExec chan struct{}
	cancelExec chan struct{}
}

// New returns a new [domain.Executor], starting in buffering mode.
func New() domain.Executor {
	e := &Executor{
		bufferExec: make(chan struct{}, 1),
		singleExec: make(chan struct{}, 1),
		cancelExec: make(chan struct{}),
	}
	e.bufferExec <- struct{}{}
	return e
}

// Bufferize implements [domain.Executor].
func (e *Executor) Bufferize() {
	if e.ready.CompareAndSwap(true, false) {
		e.bufferExec <- struct{}{}
	}
}

// Push implements [domain.Executor].
func (e *Executor) Push(ctx context.Context, task func(context.Context), forceQueuing bool) error {
	execCh := e.singleExec
	if !forceQueuing && !e.ready.Load() {
		ctx = context.WithoutCancel(ctx)
		execCh = e.bufferExec
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.getCancelExec():
		return domain.ErrBufferReset
	case execCh <- struct{}{}:
		defer func() { <-execCh }()
	}
	task(ctx)
	return nil
}

// ProcessBuffer implements [domain.Executor].
func (e *Executor) ProcessBuffer() {
	<-e.bufferExec
	e.ready.Store(true)
}

// ResetBuffer implements [domain.Executor].
func (e *Executor) ResetBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.cancelExec)
	e.cancelExec = make(chan struct{})
}

// getCancelExec returns the current cancellation channel under lock, so a
// concurrent ResetBuffer can't hand out an already-closed channel that has
// not yet been replaced.
func (e *Executor) getCancelExec() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelExec
}
