package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spaghettifunk/shadermake/compiler/core"
	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

const largePermutationSize = 64 << 20

// Assemble walks the blob registry and writes one blob file (binary and/or
// header form) per group. It returns the number of failed groups; a
// non-nil error aborts the run when continue-on-error is off.
func Assemble(opts *options.Options, blobs map[string][]planner.BlobEntry) (int, error) {
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		if err := assembleGroup(opts, name, blobs[name]); err != nil {
			core.Printf(core.Red+"ERROR: %v\n"+core.White, err)

			failed++
			if !opts.ContinueOnError {
				return failed, err
			}
		}
	}

	return failed, nil
}

func assembleGroup(opts *options.Options, blobName string, entries []planner.BlobEntry) error {
	// A single permutation without defines compiles straight to the blob
	// name, so the blob itself would be redundant.
	if len(entries) == 1 && entries[0].Permutation == "" {
		return nil
	}

	for _, entry := range entries {
		if entry.Permutation == "" {
			return fmt.Errorf("shader '%s': a permutation with empty defines would alias the blob output", filepath.Base(blobName))
		}
	}

	var sinks []WriteCallback
	var closers []func() error

	if opts.BinaryBlobNeeded {
		file := blobName + opts.OutputExt

		stream, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("can't create blob file '%s': %w", file, err)
		}
		closers = append(closers, stream.Close)

		sinks = append(sinks, func(data []byte) error {
			_, err := stream.Write(data)
			return err
		})
	}

	if opts.HeaderBlobNeeded {
		file := blobName + opts.OutputExt + ".h"

		stream, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("can't create blob header '%s': %w", file, err)
		}

		headerWriter, err := NewHeaderWriter(stream, HeaderSymbol(blobName, opts.OutputExt))
		if err != nil {
			stream.Close()
			return fmt.Errorf("can't write blob header '%s': %w", file, err)
		}
		closers = append(closers, func() error {
			if err := headerWriter.Close(); err != nil {
				stream.Close()
				return err
			}
			return stream.Close()
		})

		sinks = append(sinks, headerWriter.WriteBytes)
	}

	write := func(data []byte) error {
		for _, sink := range sinks {
			if err := sink(data); err != nil {
				return err
			}
		}
		return nil
	}

	err := func() error {
		if err := WriteFileHeader(write); err != nil {
			return fmt.Errorf("can't write blob '%s': %w", blobName, err)
		}

		for _, entry := range entries {
			file := entry.PermutationFileWithoutExt + opts.OutputExt

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("can't open file source '%s': %w", file, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("binary file '%s' is empty", file)
			}
			if len(data) > largePermutationSize {
				core.Printf(core.Yellow+"WARNING: Binary file '%s' is too large!\n"+core.White, file)
			}

			if err := WritePermutation(write, entry.Permutation, data); err != nil {
				return fmt.Errorf("can't write blob '%s': %w", blobName, err)
			}

			if !opts.BinaryNeeded {
				os.Remove(file)
			}
		}

		return nil
	}()

	for _, closeFn := range closers {
		if closeErr := closeFn(); err == nil && closeErr != nil {
			err = fmt.Errorf("can't finalize blob '%s': %w", blobName, closeErr)
		}
	}

	return err
}
