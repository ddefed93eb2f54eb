// Package workers drains the planned task set with a fixed-size pool of
// goroutines, dispatching each task through one of three backend
// strategies: an external compiler process, the in-process FXC API, or the
// in-process DXC API (the latter two on Windows only).
package workers

import (
	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

type Status uint8

const (
	// StatusOK means the task compiled and its outputs were written.
	StatusOK Status = iota
	// StatusFailed is a hard failure: the compiler ran and rejected the task.
	StatusFailed
	// StatusTransient means the compiler process could not be spawned; the
	// task may be retried against the retry budget.
	StatusTransient
)

type Result struct {
	Status  Status
	Message string
}

// Backend compiles one task to completion. Backends are created per worker
// so API instances are never shared across goroutines.
type Backend interface {
	Run(task *planner.Task) Result
}

// newBackend picks the strategy for this run: the external process backend
// unless useAPI is set, in which case the platform selects FXC or DXC.
func newBackend(opts *options.Options) (Backend, error) {
	if !opts.UseAPI {
		return &exeBackend{opts: opts}, nil
	}
	return newAPIBackend(opts)
}
