package workers

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

type stubBackend struct {
	run func(task *planner.Task) Result
}

func (s *stubBackend) Run(task *planner.Task) Result {
	return s.run(task)
}

func newStubPool(opts *options.Options, tasks []planner.Task, terminate *atomic.Bool, run func(task *planner.Task) Result) *Pool {
	pool := NewPool(opts, tasks, terminate)
	pool.newBackend = func() (Backend, error) {
		return &stubBackend{run: run}, nil
	}
	return pool
}

func makeTasks(names ...string) []planner.Task {
	tasks := make([]planner.Task, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, planner.Task{
			Source:               name,
			EntryPoint:           "main",
			Profile:              "ps",
			OutputFileWithoutExt: "out/" + name,
		})
	}
	return tasks
}

func TestPoolDrainsQueue(t *testing.T) {
	opts := &options.Options{PlatformName: "DXIL", Serial: true}

	var terminate atomic.Bool
	var ran atomic.Uint32

	pool := newStubPool(opts, makeTasks("a", "b", "c"), &terminate, func(*planner.Task) Result {
		ran.Add(1)
		return Result{Status: StatusOK}
	})
	pool.Run()

	assert.Equal(t, uint32(3), ran.Load())
	assert.Zero(t, pool.FailedCount())
	assert.False(t, terminate.Load())
}

func TestPoolHardFailureTerminates(t *testing.T) {
	opts := &options.Options{PlatformName: "DXIL", Serial: true}

	var terminate atomic.Bool
	var ran atomic.Uint32

	// LIFO order: c runs first, b fails, a must not run.
	pool := newStubPool(opts, makeTasks("a", "b", "c"), &terminate, func(task *planner.Task) Result {
		ran.Add(1)
		if task.Source == "b" {
			return Result{Status: StatusFailed, Message: "syntax error\n"}
		}
		return Result{Status: StatusOK}
	})
	pool.Run()

	assert.Equal(t, uint32(2), ran.Load())
	assert.Equal(t, uint32(1), pool.FailedCount())
	assert.True(t, terminate.Load())
}

func TestPoolContinueOnError(t *testing.T) {
	opts := &options.Options{PlatformName: "DXIL", Serial: true, ContinueOnError: true}

	var terminate atomic.Bool
	var ran atomic.Uint32

	pool := newStubPool(opts, makeTasks("a", "b", "c"), &terminate, func(task *planner.Task) Result {
		ran.Add(1)
		if task.Source == "b" {
			return Result{Status: StatusFailed, Message: "syntax error\n"}
		}
		return Result{Status: StatusOK}
	})
	pool.Run()

	assert.Equal(t, uint32(3), ran.Load())
	assert.Equal(t, uint32(1), pool.FailedCount())
	assert.False(t, terminate.Load())
}

func TestPoolRetryBudgetConsumed(t *testing.T) {
	opts := &options.Options{PlatformName: "DXIL", Serial: true, RetryCount: 2}

	var terminate atomic.Bool
	var attempts atomic.Uint32

	pool := newStubPool(opts, makeTasks("a"), &terminate, func(*planner.Task) Result {
		if attempts.Add(1) <= 2 {
			return Result{Status: StatusTransient, Message: "spawn failed"}
		}
		return Result{Status: StatusOK}
	})
	pool.Run()

	assert.Equal(t, uint32(3), attempts.Load(), "two retries then success")
	assert.Zero(t, pool.FailedCount())
	assert.Zero(t, pool.retryBudget)
}

func TestPoolExhaustedBudgetBecomesHardFailure(t *testing.T) {
	opts := &options.Options{PlatformName: "DXIL", Serial: true, RetryCount: 1}

	var terminate atomic.Bool
	var attempts atomic.Uint32

	pool := newStubPool(opts, makeTasks("a"), &terminate, func(*planner.Task) Result {
		attempts.Add(1)
		return Result{Status: StatusTransient, Message: "spawn failed"}
	})
	pool.Run()

	assert.Equal(t, uint32(2), attempts.Load(), "one retry, then the transient failure is hard")
	assert.Equal(t, uint32(1), pool.FailedCount())
	assert.True(t, terminate.Load())
}

func TestPoolBackendInitFailureTerminates(t *testing.T) {
	opts := &options.Options{PlatformName: "DXIL", Serial: true}

	var terminate atomic.Bool

	pool := NewPool(opts, makeTasks("a"), &terminate)
	pool.newBackend = func() (Backend, error) {
		return nil, assert.AnError
	}
	pool.Run()

	assert.True(t, terminate.Load())
}
