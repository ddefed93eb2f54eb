package workers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/spaghettifunk/shadermake/compiler/blob"
	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

// binaryWanted reports whether the task's raw bytecode file must exist on
// disk: asked for directly, needed by the binary blob, or needed as header
// blob input (permutations with defines are read back by the assembler).
func binaryWanted(opts *options.Options, task *planner.Task) bool {
	return opts.BinaryNeeded || opts.BinaryBlobNeeded ||
		(opts.HeaderBlobNeeded && task.CombinedDefines != "")
}

// headerWanted reports whether a C header must be emitted for the task. A
// header-blob group degenerates to a plain header when the single
// permutation has no defines.
func headerWanted(opts *options.Options, task *planner.Task) bool {
	return opts.HeaderNeeded || (opts.HeaderBlobNeeded && task.CombinedDefines == "")
}

func headerSymbol(opts *options.Options, task *planner.Task) string {
	return blob.HeaderSymbol(task.OutputFileWithoutExt, opts.OutputExt)
}

// DumpBinaryAndHeader writes the compiled bytecode in the requested output
// forms. Files land atomically: written to a temp name in the destination
// directory, then renamed into place.
func DumpBinaryAndHeader(opts *options.Options, task *planner.Task, data []byte) error {
	if binaryWanted(opts, task) {
		outputFile := task.OutputFileWithoutExt + opts.OutputExt
		if err := atomicWriteFile(outputFile, data); err != nil {
			return fmt.Errorf("can't write binary '%s': %w", outputFile, err)
		}
	}

	if headerWanted(opts, task) {
		if err := dumpHeader(opts, task, data); err != nil {
			return err
		}
	}

	return nil
}

func dumpHeader(opts *options.Options, task *planner.Task, data []byte) error {
	outputFile := task.OutputFileWithoutExt + opts.OutputExt + ".h"

	temp := tempName(outputFile)
	stream, err := os.Create(temp)
	if err != nil {
		return fmt.Errorf("can't write header '%s': %w", outputFile, err)
	}

	err = func() error {
		headerWriter, err := blob.NewHeaderWriter(stream, headerSymbol(opts, task))
		if err != nil {
			return err
		}
		if err := headerWriter.WriteBytes(data); err != nil {
			return err
		}
		return headerWriter.Close()
	}()

	if closeErr := stream.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(temp)
		return fmt.Errorf("can't write header '%s': %w", outputFile, err)
	}

	if err := os.Rename(temp, outputFile); err != nil {
		os.Remove(temp)
		return fmt.Errorf("can't write header '%s': %w", outputFile, err)
	}

	return nil
}

func atomicWriteFile(path string, data []byte) error {
	temp := tempName(path)

	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return err
	}

	return nil
}

func tempName(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
}
