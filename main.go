// ShaderMake is a multi-threaded shader compiling & processing tool: it
// reads a config file listing shaders, expands macro permutations, and
// drives FXC/DXC/Slang to produce binaries, headers and shader blobs.
package main

import (
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/spaghettifunk/shadermake/compiler/blob"
	"github.com/spaghettifunk/shadermake/compiler/core"
	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
	"github.com/spaghettifunk/shadermake/compiler/watch"
	"github.com/spaghettifunk/shadermake/compiler/workers"
)

func main() {
	os.Exit(run())
}

func run() int {
	clock := core.NewClock()
	clock.Start()

	opts, err := options.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		core.Printf(core.Red+"ERROR: %v\n"+core.White, err)
		return 1
	}

	core.SetColorize(opts.Colorize)
	core.SetVerbose(opts.Verbose)

	var terminate, interrupted atomic.Bool

	// signal channel to capture interrupts; in-flight compilations finish
	// and workers stop at the next poll
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	notifyPlatformSignals(sigCh)
	go func() {
		<-sigCh
		interrupted.Store(true)
		terminate.Store(true)
		core.Printf(core.Yellow + "Aborting...\n" + core.White)
	}()

	if !opts.UseAPI {
		value := opts.Compiler
		if runtime.GOOS == "windows" {
			value = "\"" + value + "\""
		}
		if err := os.Setenv("COMPILER", value); err != nil {
			core.Printf(core.Red+"ERROR: can't set COMPILER: %v\n"+core.White, err)
			return 1
		}
		if opts.Verbose {
			core.Printf("COMPILER=%s\n", value)
		}
	}

	if err := setupCompilerDLLs(opts); err != nil {
		core.Printf(core.Red+"ERROR: %v\n"+core.White, err)
		return 1
	}

	code := runOnce(opts, &terminate, clock)

	if opts.Watch && !interrupted.Load() {
		err := watch.Run(opts, &interrupted, func() {
			terminate.Store(interrupted.Load())
			clock.Start()
			runOnce(opts, &terminate, clock)
		})
		if err != nil {
			core.Printf(core.Red+"ERROR: %v\n"+core.White, err)
			return 1
		}
	}

	return code
}

func runOnce(opts *options.Options, terminate *atomic.Bool, clock *core.Clock) int {
	plan, err := planner.New(opts).Plan()
	if err != nil {
		core.Printf(core.Red+"ERROR: %v\n"+core.White, err)
		return 1
	}

	if len(plan.Tasks) == 0 {
		core.Printf("All %s shaders are up to date.\n", opts.PlatformName)
		return 0
	}

	pool := workers.NewPool(opts, plan.Tasks, terminate)
	pool.Run()

	failed := pool.FailedCount()

	if opts.AnyBlobNeeded() && failed == 0 && !terminate.Load() {
		blobFailed, err := blob.Assemble(opts, plan.Blobs)
		failed += uint32(blobFailed)
		if err != nil && !opts.ContinueOnError {
			return 1
		}
	}

	if failed > 0 {
		core.Printf(core.Yellow+"WARNING: %d task(s) failed to complete!\n"+core.White, failed)
	} else {
		core.Printf("%d task(s) completed successfully.\n", len(plan.Tasks))
	}

	clock.Update()
	core.Printf("Elapsed time %.2f ms\n\n", clock.ElapsedMilliseconds())

	if terminate.Load() || failed > 0 {
		return 1
	}
	return 0
}
