//go:build windows

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/spaghettifunk/shadermake/compiler/options"
)

// notifyPlatformSignals adds Ctrl+Break to the interrupt channel; it sets
// the terminate flag like SIGINT does.
func notifyPlatformSignals(sigCh chan os.Signal) {
	signal.Notify(sigCh, syscall.SIGBREAK)
}

// setupCompilerDLLs points the DLL search path at the compiler's directory
// so "dxcompiler" resolves there first, and with useAPI pre-loads the
// backend DLL so a missing installation fails up front instead of in the
// middle of the worker pool.
func setupCompilerDLLs(opts *options.Options) error {
	if opts.Compiler != "" {
		dir := filepath.Dir(opts.Compiler)
		if opts.Platform != options.PlatformDXBC && dir != "" {
			if err := windows.SetDllDirectory(dir); err != nil {
				return fmt.Errorf("can't set DLL directory '%s': %w", dir, err)
			}
		}
	}

	if opts.UseAPI {
		name := "dxcompiler.dll"
		if opts.Platform == options.PlatformDXBC {
			name = "d3dcompiler_47.dll"
		}

		if _, err := windows.LoadLibrary(name); err != nil {
			return fmt.Errorf("can't load %s: %w", name, err)
		}
	}

	return nil
}
