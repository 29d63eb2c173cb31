package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"satchel/domain"
)

type ExecutorTestSuite struct {
	suite.Suite
}

func (s *ExecutorTestSuite) TestBuffersUntilProcessed() {
	e := New()
	ran := make(chan struct{})
	go func() {
		_ = e.Push(context.Background(), func(context.Context) { close(ran) }, false)
	}()

	select {
	case <-ran:
		s.Fail("task ran before ProcessBuffer")
	case <-time.After(20 * time.Millisecond):
	}

	e.ProcessBuffer()
	select {
	case <-ran:
	case <-time.After(time.Second):
		s.Fail("task never ran after ProcessBuffer")
	}
}

func (s *ExecutorTestSuite) TestForceQueuingBypassesBuffer() {
	e := New()
	ran := false
	err := e.Push(context.Background(), func(context.Context) { ran = true }, true)
	s.NoError(err)
	s.True(ran)
}

func (s *ExecutorTestSuite) TestSequentialPushesAfterReady() {
	e := New()
	e.ProcessBuffer()
	for i := 0; i < 50; i++ {
		ran := false
		err := e.Push(context.Background(), func(context.Context) { ran = true }, false)
		s.Require().NoError(err)
		s.True(ran)
	}
}

func (s *ExecutorTestSuite) TestConcurrentPushesAreSerialized() {
	e := New()
	e.ProcessBuffer()

	const n = 20
	counter := 0
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- e.Push(context.Background(), func(context.Context) {
				counter++
			}, false)
		}()
	}
	for i := 0; i < n; i++ {
		s.NoError(<-errs)
	}
	s.Equal(n, counter)
}

func (s *ExecutorTestSuite) TestPushRespectsContext() {
	e := New()
	e.ProcessBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Push(ctx, func(context.Context) { s.Fail("task should not run") }, false)
	s.ErrorIs(err, context.Canceled)
}

func (s *ExecutorTestSuite) TestResetBufferUnblocksWaiters() {
	e := New()
	done := make(chan error, 1)
	go func() {
		done <- e.Push(context.Background(), func(context.Context) {}, false)
	}()
	e.ResetBuffer()
	select {
	case err := <-done:
		s.ErrorIs(err, domain.ErrBufferReset)
	case <-time.After(time.Second):
		s.Fail("ResetBuffer did not unblock the buffered Push")
	}
}

func TestExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}
