package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

func newBlobOptions(t *testing.T) *options.Options {
	t.Helper()

	return &options.Options{
		Platform:         options.PlatformDXIL,
		PlatformName:     "DXIL",
		OutputDir:        t.TempDir(),
		OutputExt:        ".dxil",
		BinaryBlobNeeded: true,
	}
}

func writePermutationFile(t *testing.T, opts *options.Options, name string, data []byte) planner.BlobEntry {
	t.Helper()

	file := filepath.Join(opts.OutputDir, name)
	require.NoError(t, os.WriteFile(file+opts.OutputExt, data, 0o644))

	return planner.BlobEntry{PermutationFileWithoutExt: file}
}

func TestAssembleBinaryBlob(t *testing.T) {
	opts := newBlobOptions(t)

	entryA := writePermutationFile(t, opts, "b_00000001", []byte{1, 2, 3})
	entryA.Permutation = "MODE=0"
	entryB := writePermutationFile(t, opts, "b_00000002", []byte{4, 5})
	entryB.Permutation = "MODE=1"

	blobName := filepath.Join(opts.OutputDir, "b")
	failed, err := Assemble(opts, map[string][]planner.BlobEntry{
		blobName: {entryA, entryB},
	})
	require.NoError(t, err)
	assert.Zero(t, failed)

	stream, err := os.Open(blobName + opts.OutputExt)
	require.NoError(t, err)
	defer stream.Close()

	entries, err := Read(stream)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "MODE=0", entries[0].Permutation)
	assert.Equal(t, []byte{1, 2, 3}, entries[0].Data)
	assert.Equal(t, "MODE=1", entries[1].Permutation)

	// Raw binaries were not requested, so the intermediates are gone.
	_, err = os.Stat(entryA.PermutationFileWithoutExt + opts.OutputExt)
	assert.True(t, os.IsNotExist(err))
}

func TestAssembleKeepsIntermediatesWithBinary(t *testing.T) {
	opts := newBlobOptions(t)
	opts.BinaryNeeded = true

	entry := writePermutationFile(t, opts, "b_00000001", []byte{1})
	entry.Permutation = "MODE=0"
	other := writePermutationFile(t, opts, "b_00000002", []byte{2})
	other.Permutation = "MODE=1"

	blobName := filepath.Join(opts.OutputDir, "b")
	_, err := Assemble(opts, map[string][]planner.BlobEntry{blobName: {entry, other}})
	require.NoError(t, err)

	_, err = os.Stat(entry.PermutationFileWithoutExt + opts.OutputExt)
	assert.NoError(t, err)
}

func TestAssembleHeaderBlob(t *testing.T) {
	opts := newBlobOptions(t)
	opts.BinaryBlobNeeded = false
	opts.HeaderBlobNeeded = true

	entryA := writePermutationFile(t, opts, "fx_00000001", []byte{7, 8})
	entryA.Permutation = "A=0"
	entryB := writePermutationFile(t, opts, "fx_00000002", []byte{9})
	entryB.Permutation = "A=1"

	blobName := filepath.Join(opts.OutputDir, "fx")
	failed, err := Assemble(opts, map[string][]planner.BlobEntry{blobName: {entryA, entryB}})
	require.NoError(t, err)
	assert.Zero(t, failed)

	text, err := os.ReadFile(blobName + opts.OutputExt + ".h")
	require.NoError(t, err)
	assert.Contains(t, string(text), "const uint8_t g_fx_dxil[] = {")
	assert.Contains(t, string(text), "};")
}

func TestAssembleSkipsDegenerateGroup(t *testing.T) {
	opts := newBlobOptions(t)

	entry := writePermutationFile(t, opts, "solo", []byte{1})
	entry.Permutation = ""

	blobName := filepath.Join(opts.OutputDir, "solo")
	failed, err := Assemble(opts, map[string][]planner.BlobEntry{blobName: {entry}})
	require.NoError(t, err)
	assert.Zero(t, failed)

	_, err = os.Stat(blobName + opts.OutputExt)
	assert.True(t, os.IsNotExist(err), "degenerate blob must not be written")
}

func TestAssembleRejectsEmptyDefinesAmongOthers(t *testing.T) {
	opts := newBlobOptions(t)

	plain := writePermutationFile(t, opts, "mix", []byte{1})
	plain.Permutation = ""
	defined := writePermutationFile(t, opts, "mix_00000001", []byte{2})
	defined.Permutation = "A=1"

	blobName := filepath.Join(opts.OutputDir, "mix")
	failed, err := Assemble(opts, map[string][]planner.BlobEntry{blobName: {plain, defined}})
	require.Error(t, err)
	assert.Equal(t, 1, failed)
}

func TestAssembleContinueOnErrorAdvances(t *testing.T) {
	opts := newBlobOptions(t)
	opts.ContinueOnError = true

	missing := planner.BlobEntry{
		PermutationFileWithoutExt: filepath.Join(opts.OutputDir, "gone_00000001"),
		Permutation:               "A=0",
	}
	ok := writePermutationFile(t, opts, "good_00000001", []byte{3})
	ok.Permutation = "A=0"
	okOther := writePermutationFile(t, opts, "good_00000002", []byte{4})
	okOther.Permutation = "A=1"

	failed, err := Assemble(opts, map[string][]planner.BlobEntry{
		filepath.Join(opts.OutputDir, "gone"): {missing, missing},
		filepath.Join(opts.OutputDir, "good"): {ok, okOther},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	_, statErr := os.Stat(filepath.Join(opts.OutputDir, "good") + opts.OutputExt)
	assert.NoError(t, statErr)
}
