//go:build !windows

package main

import (
	"os"

	"github.com/spaghettifunk/shadermake/compiler/options"
)

func setupCompilerDLLs(*options.Options) error {
	return nil
}

// SIGBREAK only exists on Windows.
func notifyPlatformSignals(chan os.Signal) {}
