package workers

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

func newExeOptions() *options.Options {
	return &options.Options{
		Platform:      options.PlatformDXIL,
		PlatformName:  "DXIL",
		ConfigFile:    filepath.Join("proj", "shaders.cfg"),
		ShaderModel:   "6_5",
		VulkanVersion: "1.3",
		OutputExt:     ".dxil",
		BinaryNeeded:  true,
		SRegShift:     100,
		TRegShift:     200,
		BRegShift:     300,
		URegShift:     400,
	}
}

func newExeTask() *planner.Task {
	return &planner.Task{
		Source:               "a.hlsl",
		EntryPoint:           "main",
		Profile:              "ps",
		OutputFileWithoutExt: filepath.Join("out", "a"),
		OptimizationLevel:    3,
	}
}

func TestBuildCommandLineBasics(t *testing.T) {
	opts := newExeOptions()
	task := newExeTask()

	cmd := BuildCommandLine(opts, task)

	assert.Contains(t, cmd, "COMPILER")
	assert.Contains(t, cmd, " -nologo")
	assert.Contains(t, cmd, " -Fo "+filepath.Join("out", "a")+".dxil")
	assert.Contains(t, cmd, " -T ps_6_5")
	assert.Contains(t, cmd, " -E main")
	assert.Contains(t, cmd, " -O3")
	assert.True(t, strings.HasSuffix(cmd, "a.hlsl"), "source path comes last")
	assert.NotContains(t, cmd, "-Fh")
	assert.NotContains(t, cmd, "-spirv")
}

func TestBuildCommandLineHeaderOutput(t *testing.T) {
	opts := newExeOptions()
	opts.HeaderNeeded = true
	task := newExeTask()

	cmd := BuildCommandLine(opts, task)

	assert.Contains(t, cmd, " -Fh "+filepath.Join("out", "a")+".dxil.h")
	assert.Contains(t, cmd, " -Vn g_a_dxil")
}

func TestBuildCommandLineDefineOrder(t *testing.T) {
	opts := newExeOptions()
	opts.Defines = []string{"GLOBAL=1"}
	task := newExeTask()
	task.Defines = []string{"LOCAL=2"}

	cmd := BuildCommandLine(opts, task)

	global := strings.Index(cmd, "-D GLOBAL=1")
	local := strings.Index(cmd, "-D LOCAL=2")
	require.GreaterOrEqual(t, global, 0)
	require.GreaterOrEqual(t, local, 0)
	assert.Less(t, global, local, "global defines precede local ones")
}

func TestBuildCommandLineDXBCForcesShaderModel(t *testing.T) {
	opts := newExeOptions()
	opts.Platform = options.PlatformDXBC
	opts.PlatformName = "DXBC"
	task := newExeTask()

	cmd := BuildCommandLine(opts, task)

	assert.Contains(t, cmd, " -T ps_5_0")
	assert.NotContains(t, cmd, "-enable-16bit-types")
}

func TestBuildCommandLine16BitTypes(t *testing.T) {
	opts := newExeOptions()
	opts.ShaderModel = "6_2"
	task := newExeTask()

	assert.Contains(t, BuildCommandLine(opts, task), " -enable-16bit-types")

	opts.ShaderModel = "6_1"
	assert.NotContains(t, BuildCommandLine(opts, task), " -enable-16bit-types")
}

func TestBuildCommandLineCompilerFlags(t *testing.T) {
	opts := newExeOptions()
	opts.WarningsAreErrors = true
	opts.AllResourcesBound = true
	opts.MatrixRowMajor = true
	opts.Hlsl2021 = true
	opts.PDB = true
	opts.EmbedPDB = true
	opts.StripReflection = true
	task := newExeTask()
	task.OptimizationLevel = 0

	cmd := BuildCommandLine(opts, task)

	assert.Contains(t, cmd, " -WX")
	assert.Contains(t, cmd, " -all_resources_bound")
	assert.Contains(t, cmd, " -Zpr")
	assert.Contains(t, cmd, " -HV 2021")
	assert.Contains(t, cmd, " -Zi -Zsb")
	assert.Contains(t, cmd, " -Qembed_debug")
	assert.Contains(t, cmd, " -Qstrip_reflect")
	assert.Contains(t, cmd, " -Fd "+filepath.Join("out", options.PdbDir))
	assert.Contains(t, cmd, " -Od")
}

func TestBuildCommandLineSpirv(t *testing.T) {
	opts := newExeOptions()
	opts.Platform = options.PlatformSPIRV
	opts.PlatformName = "SPIRV"
	opts.OutputExt = ".spirv"
	opts.SpirvExtensions = []string{"SPV_EXT_descriptor_indexing"}
	opts.VulkanMemLayout = "gl"
	opts.StripReflection = true
	task := newExeTask()

	cmd := BuildCommandLine(opts, task)

	assert.Contains(t, cmd, " -spirv")
	assert.Contains(t, cmd, " -fspv-target-env=vulkan1.3")
	assert.Contains(t, cmd, " -fvk-use-gl-layout")
	assert.Contains(t, cmd, " -fspv-extension=SPV_EXT_descriptor_indexing")
	assert.Equal(t, options.SpirvSpacesNum, strings.Count(cmd, "-fvk-s-shift 100"))
	assert.Equal(t, options.SpirvSpacesNum, strings.Count(cmd, "-fvk-u-shift 400"))
	assert.NotContains(t, cmd, "-Qstrip_reflect", "not supported by SPIRV gen")
}

func TestBuildCommandLineNoRegShifts(t *testing.T) {
	opts := newExeOptions()
	opts.Platform = options.PlatformSPIRV
	opts.PlatformName = "SPIRV"
	opts.NoRegShifts = true
	task := newExeTask()

	assert.NotContains(t, BuildCommandLine(opts, task), "-fvk-s-shift")
}

func TestBuildCommandLineSlang(t *testing.T) {
	opts := newExeOptions()
	opts.Slang = true
	opts.WarningsAreErrors = true
	task := newExeTask()

	cmd := BuildCommandLine(opts, task)

	assert.Contains(t, cmd, " -profile ps_6_5")
	assert.Contains(t, cmd, " -target dxil")
	assert.Contains(t, cmd, " -o "+filepath.Join("out", "a")+".dxil")
	assert.Contains(t, cmd, " -entry main")
	assert.Contains(t, cmd, " -O3")
	assert.Contains(t, cmd, " -warnings-as-errors")
	assert.Contains(t, cmd, " -matrix-layout-column-major")
	assert.NotContains(t, cmd, "-nologo")
}

func writeFakeCompiler(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fakecc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))

	return path
}

func TestExeBackendSuccessFiltersNoise(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}

	compiler := writeFakeCompiler(t, "echo warning: something\necho compilation object save succeeded\nexit 0\n")
	t.Setenv("COMPILER", compiler)

	backend := &exeBackend{opts: newExeOptions()}
	result := backend.Run(newExeTask())

	assert.Equal(t, StatusOK, result.Status)
	assert.Contains(t, result.Message, "warning: something")
	assert.NotContains(t, result.Message, "compilation object save succeeded")
}

func TestExeBackendHardFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}

	compiler := writeFakeCompiler(t, "echo error: bad shader 1>&2\nexit 1\n")
	t.Setenv("COMPILER", compiler)

	backend := &exeBackend{opts: newExeOptions()}
	result := backend.Run(newExeTask())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Message, "error: bad shader")
}

func TestExeBackendMissingCompilerIsTransient(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}

	t.Setenv("COMPILER", "/nonexistent/compiler-binary")

	backend := &exeBackend{opts: newExeOptions()}
	result := backend.Run(newExeTask())

	assert.Equal(t, StatusTransient, result.Status)
}
