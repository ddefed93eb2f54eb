package workers

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/shadermake/compiler/core"
	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

// Pool runs the planned tasks on a fixed number of workers. The task stack
// and the retry budget are guarded by one mutex; counters and the
// terminate flag are atomics so backends can poll them lock-free.
type Pool struct {
	opts *options.Options

	mu          sync.Mutex
	tasks       []planner.Task // drained LIFO
	retryBudget int

	processed     atomic.Uint32
	failed        atomic.Uint32
	terminate     *atomic.Bool
	originalCount uint32

	initFailure sync.Once

	newBackend func() (Backend, error)
}

func NewPool(opts *options.Options, tasks []planner.Task, terminate *atomic.Bool) *Pool {
	return &Pool{
		opts:          opts,
		tasks:         tasks,
		retryBudget:   opts.RetryCount,
		terminate:     terminate,
		originalCount: uint32(len(tasks)),
		newBackend:    func() (Backend, error) { return newBackend(opts) },
	}
}

// Run spawns the workers and blocks until the queue is drained or the
// terminate flag stops the pool.
func (p *Pool) Run() {
	workers := 1
	if !p.opts.Serial {
		workers = core.Max(runtime.NumCPU(), 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker()
		}()
	}
	wg.Wait()
}

func (p *Pool) FailedCount() uint32 {
	return p.failed.Load()
}

func (p *Pool) worker() {
	backend, err := p.newBackend()
	if err != nil {
		p.initFailure.Do(func() {
			core.Printf(core.Red+"ERROR: %v\n"+core.White, err)
		})
		p.terminate.Store(true)
		return
	}

	for !p.terminate.Load() {
		task, ok := p.pop()
		if !ok {
			return
		}

		result := backend.Run(&task)

		switch result.Status {
		case StatusOK:
			p.updateProgress(&task, true, result.Message)

		case StatusTransient:
			if p.consumeRetry() {
				p.push(task)
				core.Printf(core.Yellow+"[RETRY ] %s %s {%s} {%s}\n"+core.White,
					p.opts.PlatformName, task.Source, task.EntryPoint, task.CombinedDefines)
			} else {
				p.updateProgress(&task, false, result.Message)
			}

		case StatusFailed:
			p.updateProgress(&task, false, result.Message)
		}
	}
}

func (p *Pool) pop() (planner.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tasks) == 0 {
		return planner.Task{}, false
	}

	task := p.tasks[len(p.tasks)-1]
	p.tasks = p.tasks[:len(p.tasks)-1]

	return task, true
}

func (p *Pool) push(task planner.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks = append(p.tasks, task)
}

// consumeRetry takes one retry from the shared budget; once exhausted,
// transient failures become hard failures.
func (p *Pool) consumeRetry() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.retryBudget == 0 {
		return false
	}
	p.retryBudget--

	return true
}

// updateProgress emits a single formatted line per terminating task event
// so concurrent workers never interleave output mid-line.
func (p *Pool) updateProgress(task *planner.Task, succeeded bool, message string) {
	if succeeded {
		progress := 100.0 * float64(p.processed.Add(1)) / float64(p.originalCount)

		if message != "" {
			core.Printf(core.Yellow+"[%5.1f%%] %s %s {%s} {%s}\n%s"+core.White,
				progress, p.opts.PlatformName, task.Source, task.EntryPoint, task.CombinedDefines, message)
		} else {
			core.Printf(core.Green+"[%5.1f%%]"+core.Gray+" %s"+core.White+" %s"+core.Gray+" {%s}"+core.White+" {%s}\n",
				progress, p.opts.PlatformName, task.Source, task.EntryPoint, task.CombinedDefines)
		}
	} else {
		if message == "" {
			message = "<no message text>!\n"
		}

		core.Printf(core.Red+"[ FAIL ] %s %s {%s} {%s}\n%s"+core.White,
			p.opts.PlatformName, task.Source, task.EntryPoint, task.CombinedDefines, message)

		if !p.opts.ContinueOnError {
			p.terminate.Store(true)
		}

		p.failed.Add(1)
	}
}
