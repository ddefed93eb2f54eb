//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the shadermake binary.
func (Build) Tool() error {
	_, err := executeCmd(true, "go", "build", "-o", "bin/shadermake", ".")
	return err
}

// Runs the full test suite.
func (Build) Test() error {
	_, err := executeCmd(true, "go", "test", "./...")
	return err
}

// Runs go vet across the module.
func (Build) Vet() error {
	_, err := executeCmd(true, "go", "vet", "./...")
	return err
}
