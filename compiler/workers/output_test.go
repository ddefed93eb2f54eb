package workers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

func newOutputOptions(t *testing.T) (*options.Options, *planner.Task) {
	t.Helper()

	opts := &options.Options{
		Platform:     options.PlatformDXIL,
		PlatformName: "DXIL",
		OutputExt:    ".dxil",
	}
	task := &planner.Task{
		Source:               "c.hlsl",
		EntryPoint:           "main",
		Profile:              "vs",
		OutputFileWithoutExt: filepath.Join(t.TempDir(), "c"),
	}

	return opts, task
}

func TestDumpBinary(t *testing.T) {
	opts, task := newOutputOptions(t)
	opts.BinaryNeeded = true

	data := []byte{1, 2, 3, 255}
	require.NoError(t, DumpBinaryAndHeader(opts, task, data))

	written, err := os.ReadFile(task.OutputFileWithoutExt + ".dxil")
	require.NoError(t, err)
	assert.Equal(t, data, written)

	_, err = os.Stat(task.OutputFileWithoutExt + ".dxil.h")
	assert.True(t, os.IsNotExist(err))
}

func TestDumpHeader(t *testing.T) {
	opts, task := newOutputOptions(t)
	opts.HeaderNeeded = true

	require.NoError(t, DumpBinaryAndHeader(opts, task, []byte{0, 128, 255}))

	text, err := os.ReadFile(task.OutputFileWithoutExt + ".dxil.h")
	require.NoError(t, err)

	content := string(text)
	assert.True(t, strings.HasPrefix(content, "const uint8_t g_c_dxil[] = {"))
	assert.True(t, strings.HasSuffix(content, "\n};\n"))
	assert.Contains(t, content, "0, 128, 255, ")
}

func TestDumpHeaderBlobWithDefinesWritesBinary(t *testing.T) {
	opts, task := newOutputOptions(t)
	opts.HeaderBlobNeeded = true
	task.CombinedDefines = "A=1"

	require.NoError(t, DumpBinaryAndHeader(opts, task, []byte{9}))

	_, err := os.Stat(task.OutputFileWithoutExt + ".dxil")
	assert.NoError(t, err, "header blob input is the raw permutation binary")

	_, err = os.Stat(task.OutputFileWithoutExt + ".dxil.h")
	assert.True(t, os.IsNotExist(err))
}

func TestDumpHeaderBlobWithoutDefinesWritesHeader(t *testing.T) {
	opts, task := newOutputOptions(t)
	opts.HeaderBlobNeeded = true

	require.NoError(t, DumpBinaryAndHeader(opts, task, []byte{9}))

	_, err := os.Stat(task.OutputFileWithoutExt + ".dxil.h")
	assert.NoError(t, err, "degenerate header blob falls back to a plain header")

	_, err = os.Stat(task.OutputFileWithoutExt + ".dxil")
	assert.True(t, os.IsNotExist(err))
}

func TestDumpLeavesNoTempFiles(t *testing.T) {
	opts, task := newOutputOptions(t)
	opts.BinaryNeeded = true
	opts.HeaderNeeded = true

	require.NoError(t, DumpBinaryAndHeader(opts, task, []byte{1}))

	entries, err := os.ReadDir(filepath.Dir(task.OutputFileWithoutExt))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "temp file left behind: %s", entry.Name())
	}
}
