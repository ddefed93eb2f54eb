package workers

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spaghettifunk/shadermake/compiler/core"
	"github.com/spaghettifunk/shadermake/compiler/options"
	"github.com/spaghettifunk/shadermake/compiler/planner"
)

// exeBackend spawns the compiler as a child process through the shell. The
// command line references the COMPILER environment variable set by the
// orchestrator, and "2>&1" merges diagnostics into the captured stream.
type exeBackend struct {
	opts *options.Options
}

// Known-noise FXC output filtered from diagnostics.
const fxcSaveNotice = "compilation object save succeeded"

func (b *exeBackend) Run(task *planner.Task) Result {
	cmdLine := BuildCommandLine(b.opts, task) + " 2>&1"

	if b.opts.Verbose {
		core.Printf("%s\n", cmdLine)
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/C", cmdLine)
	} else {
		cmd = exec.Command("/bin/sh", "-c", cmdLine)
	}

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Status: StatusTransient, Message: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		// The child never ran; worth a retry.
		return Result{Status: StatusTransient, Message: err.Error()}
	}

	var message strings.Builder
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, fxcSaveNotice) {
			continue
		}
		message.WriteString(line)
		message.WriteString("\n")
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 127 is the shell's command-not-found status; the compiler
			// itself never ran.
			if runtime.GOOS != "windows" && exitErr.ExitCode() == 127 {
				return Result{Status: StatusTransient, Message: message.String()}
			}
			return Result{Status: StatusFailed, Message: message.String()}
		}
		return Result{Status: StatusTransient, Message: err.Error()}
	}

	if b.opts.Slang {
		if err := b.convertSlangOutputs(task); err != nil {
			return Result{Status: StatusFailed, Message: err.Error() + "\n"}
		}
	}

	return Result{Status: StatusOK, Message: message.String()}
}

// convertSlangOutputs turns the binary Slang wrote into a C header when a
// header form was requested, since Slang has no -Fh equivalent. The binary
// is removed again when no raw binary output was asked for.
func (b *exeBackend) convertSlangOutputs(task *planner.Task) error {
	if !headerWanted(b.opts, task) {
		return nil
	}

	binaryFile := task.OutputFileWithoutExt + b.opts.OutputExt

	data, err := os.ReadFile(binaryFile)
	if err != nil {
		return fmt.Errorf("can't read compiled binary '%s': %w", binaryFile, err)
	}

	if err := dumpHeader(b.opts, task, data); err != nil {
		return err
	}

	if !binaryWanted(b.opts, task) {
		os.Remove(binaryFile)
	}

	return nil
}

// BuildCommandLine composes the full compiler invocation for a task,
// referencing the COMPILER environment variable so the shell resolves the
// executable.
func BuildCommandLine(opts *options.Options, task *planner.Task) string {
	if opts.Slang {
		return buildSlangCommandLine(opts, task)
	}
	return buildDxcCommandLine(opts, task)
}

func compilerVariable() string {
	if runtime.GOOS == "windows" {
		return "%COMPILER%"
	}
	return "$COMPILER"
}

func profileString(opts *options.Options, task *planner.Task) string {
	if opts.Platform == options.PlatformDXBC {
		return task.Profile + "_5_0"
	}
	return task.Profile + "_" + opts.ShaderModel
}

func buildDxcCommandLine(opts *options.Options, task *planner.Task) string {
	var cmd strings.Builder
	cmd.WriteString(compilerVariable())
	cmd.WriteString(" -nologo")

	outputFile := task.OutputFileWithoutExt + opts.OutputExt
	if binaryWanted(opts, task) {
		cmd.WriteString(" -Fo " + outputFile)
	}
	if headerWanted(opts, task) {
		cmd.WriteString(" -Fh " + outputFile + ".h")
		cmd.WriteString(" -Vn " + headerSymbol(opts, task))
	}

	cmd.WriteString(" -T " + profileString(opts, task))
	cmd.WriteString(" -E " + task.EntryPoint)

	for _, define := range opts.Defines {
		cmd.WriteString(" -D " + define)
	}
	for _, define := range task.Defines {
		cmd.WriteString(" -D " + define)
	}

	for _, dir := range opts.IncludeDirs {
		cmd.WriteString(" -I " + dir)
	}

	cmd.WriteString(optimizationArg(task.OptimizationLevel))

	if opts.Platform != options.PlatformDXBC && opts.ShaderModelIndex() >= 62 {
		cmd.WriteString(" -enable-16bit-types")
	}
	if opts.WarningsAreErrors {
		cmd.WriteString(" -WX")
	}
	if opts.AllResourcesBound {
		cmd.WriteString(" -all_resources_bound")
	}
	if opts.MatrixRowMajor {
		cmd.WriteString(" -Zpr")
	}
	if opts.Hlsl2021 {
		cmd.WriteString(" -HV 2021")
	}
	if opts.PDB {
		cmd.WriteString(" -Zi -Zsb") // only binary code affects hash
	}
	if opts.EmbedPDB {
		cmd.WriteString(" -Qembed_debug")
	}

	if opts.Platform == options.PlatformSPIRV {
		cmd.WriteString(" -spirv")
		cmd.WriteString(" -fspv-target-env=vulkan" + opts.VulkanVersion)

		if opts.VulkanMemLayout != "" {
			cmd.WriteString(" -fvk-use-" + opts.VulkanMemLayout + "-layout")
		}

		for _, ext := range opts.SpirvExtensions {
			cmd.WriteString(" -fspv-extension=" + ext)
		}

		writeRegShifts(&cmd, opts)
	} else { // Not supported by SPIRV gen
		if opts.StripReflection {
			cmd.WriteString(" -Qstrip_reflect")
		}
		if opts.PDB {
			cmd.WriteString(" -Fd " + filepath.Join(filepath.Dir(outputFile), options.PdbDir) + string(filepath.Separator))
		}
	}

	cmd.WriteString(" " + task.SourceFile(opts))

	return cmd.String()
}

func buildSlangCommandLine(opts *options.Options, task *planner.Task) string {
	var cmd strings.Builder
	cmd.WriteString(compilerVariable())

	cmd.WriteString(" -profile " + profileString(opts, task))
	cmd.WriteString(" -target " + strings.ToLower(opts.PlatformName))
	cmd.WriteString(" -o " + task.OutputFileWithoutExt + opts.OutputExt)
	cmd.WriteString(" -entry " + task.EntryPoint)

	for _, define := range opts.Defines {
		cmd.WriteString(" -D " + define)
	}
	for _, define := range task.Defines {
		cmd.WriteString(" -D " + define)
	}

	for _, dir := range opts.IncludeDirs {
		cmd.WriteString(" -I " + dir)
	}

	cmd.WriteString(fmt.Sprintf(" -O%d", task.OptimizationLevel))

	if opts.WarningsAreErrors {
		cmd.WriteString(" -warnings-as-errors")
	}
	if opts.MatrixRowMajor {
		cmd.WriteString(" -matrix-layout-row-major")
	} else {
		cmd.WriteString(" -matrix-layout-column-major")
	}

	if opts.Platform == options.PlatformSPIRV {
		if opts.VulkanMemLayout == "scalar" {
			cmd.WriteString(" -force-glsl-scalar-layout")
		} else if opts.VulkanMemLayout == "gl" {
			cmd.WriteString(" -fvk-use-gl-layout")
		}

		writeRegShifts(&cmd, opts)
	}

	cmd.WriteString(" " + task.SourceFile(opts))

	return cmd.String()
}

// writeRegShifts appends the 4 register classes x 8 descriptor spaces
// binding shift triples.
func writeRegShifts(cmd *strings.Builder, opts *options.Options) {
	if opts.NoRegShifts {
		return
	}

	for space := 0; space < options.SpirvSpacesNum; space++ {
		fmt.Fprintf(cmd, " -fvk-s-shift %d %d", opts.SRegShift, space)
		fmt.Fprintf(cmd, " -fvk-t-shift %d %d", opts.TRegShift, space)
		fmt.Fprintf(cmd, " -fvk-b-shift %d %d", opts.BRegShift, space)
		fmt.Fprintf(cmd, " -fvk-u-shift %d %d", opts.URegShift, space)
	}
}

func optimizationArg(level int) string {
	switch level {
	case 0:
		return " -Od"
	case 1:
		return " -O1"
	case 2:
		return " -O2"
	default:
		return " -O3"
	}
}
