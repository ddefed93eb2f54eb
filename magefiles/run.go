//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the testbed shaders to SPIRV with the locally built tool.
func (Run) Testbed() error {
	mg.Deps(Build.Tool)

	fmt.Println("Compiling testbed shaders...")
	_, err := executeCmd(true, "bin/shadermake",
		"-p", "SPIRV",
		"-c", "testbed/shaders.cfg",
		"-o", "testbed/out",
		"--sourceDir", "shaders",
		"--binary",
		"--compiler", "dxc",
	)
	return err
}
