// Package options holds the immutable global configuration of a run,
// assembled once from the command line (optionally prefilled from a TOML
// settings file) and shared read-only by every other package.
package options

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spaghettifunk/shadermake/compiler/core"
)

type Platform uint8

const (
	PlatformDXBC Platform = iota
	PlatformDXIL
	PlatformSPIRV

	platformsNum
)

var platformNames = [platformsNum]string{
	"DXBC",
	"DXIL",
	"SPIRV",
}

var platformExts = [platformsNum]string{
	".dxbc",
	".dxil",
	".spirv",
}

func (p Platform) String() string {
	return platformNames[p]
}

func (p Platform) Ext() string {
	return platformExts[p]
}

// SpirvSpacesNum is the per-register-class descriptor space replication
// count for the -fvk-*-shift argument triples.
const SpirvSpacesNum = 8

// PdbDir is the subdirectory of the output directory receiving PDB files.
const PdbDir = "PDB"

// UseGlobalOptimizationLevel marks a config line that inherits the global
// optimization level.
const UseGlobalOptimizationLevel = -1

type Options struct {
	Platform        Platform
	PlatformName    string
	ConfigFile      string // absolute
	OutputDir       string
	SourceDir       string
	Compiler        string
	ShaderModel     string
	VulkanVersion   string
	VulkanMemLayout string
	OutputExt       string

	IncludeDirs     []string // absolutized against the config file parent
	Defines         []string
	RelaxedIncludes []string
	SpirvExtensions []string

	SRegShift uint32
	TRegShift uint32
	BRegShift uint32
	URegShift uint32

	OptimizationLevel int
	RetryCount        int

	BinaryNeeded     bool
	HeaderNeeded     bool
	BinaryBlobNeeded bool
	HeaderBlobNeeded bool

	Force             bool
	Flatten           bool
	ContinueOnError   bool
	WarningsAreErrors bool
	AllResourcesBound bool
	PDB               bool
	EmbedPDB          bool
	StripReflection   bool
	MatrixRowMajor    bool
	Hlsl2021          bool
	Serial            bool
	Verbose           bool
	Colorize          bool
	UseAPI            bool
	Slang             bool
	NoRegShifts       bool
	Watch             bool
}

// AnyBlobNeeded reports whether the run emits blob files at all.
func (o *Options) AnyBlobNeeded() bool {
	return o.BinaryBlobNeeded || o.HeaderBlobNeeded
}

// ShaderModelIndex folds the "X_Y" shader model string into X*10+Y.
func (o *Options) ShaderModelIndex() int {
	return int(o.ShaderModel[0]-'0')*10 + int(o.ShaderModel[2]-'0')
}

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, " ")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// Parse processes command-line arguments into a validated Options value.
// A --settings file, when present, prefills defaults before the flags are
// applied on top of it.
func Parse(args []string, output io.Writer) (*Options, error) {
	defaults := Settings{
		ShaderModel:       "6_5",
		VulkanVersion:     "1.3",
		SpirvExt:          []string{"SPV_EXT_descriptor_indexing", "KHR"},
		SRegShift:         100,
		TRegShift:         200,
		BRegShift:         300,
		URegShift:         400,
		OptimizationLevel: 3,
	}

	if path := settingsPath(args); path != "" {
		if err := loadSettings(path, &defaults); err != nil {
			return nil, err
		}
	}

	flagSet := flag.NewFlagSet("shadermake", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
ShaderMake - multi-threaded shader compiling & processing tool

Usage:
  shadermake -p {DXBC|DXIL|SPIRV} --binary [--header --binaryBlob --headerBlob]
      -c "path/to/config" -o "path/to/output" --compiler "path/to/compiler"
      [-D DEF1 -D DEF2=1 ... -I "path1" -I "path2" ...]

Options:
`)
		flagSet.PrintDefaults()
	}

	var (
		platformName = flagSet.String("p", defaults.Platform, "Platform: DXBC, DXIL or SPIRV")
		configPath   = flagSet.String("c", defaults.Config, "Configuration file with the list of shaders to compile")
		outputDir    = flagSet.String("o", defaults.Out, "Output directory")
		binary       = flagSet.Bool("binary", defaults.Binary, "Output native binary files")
		header       = flagSet.Bool("header", defaults.Header, "Output header files")
		binaryBlob   = flagSet.Bool("binaryBlob", defaults.BinaryBlob, "Output binary blob files")
		headerBlob   = flagSet.Bool("headerBlob", defaults.HeaderBlob, "Output header blob files")
		compiler     = flagSet.String("compiler", defaults.Compiler, "Path to a specific FXC/DXC/Slang compiler")

		shaderModel  = flagSet.String("m", defaults.ShaderModel, "Shader model for DXIL/SPIRV (always SM 5.0 for DXBC)")
		optimization = flagSet.Int("O", defaults.OptimizationLevel, "Optimization level 0-3 (default = 3, disabled = 0)")
		wx           = flagSet.Bool("WX", defaults.WX, "Maps to '-WX' DXC/FXC option: warnings are errors")
		allResources = flagSet.Bool("allResourcesBound", defaults.AllResourcesBound, "Maps to '-all_resources_bound' DXC/FXC option")
		pdb          = flagSet.Bool("PDB", defaults.PDB, "Output PDB files in 'out/PDB/' folder")
		embedPDB     = flagSet.Bool("embedPDB", defaults.EmbedPDB, "Embed PDB with the shader binary")
		stripReflect = flagSet.Bool("stripReflection", defaults.StripReflection, "Maps to '-Qstrip_reflect' DXC/FXC option")
		rowMajor     = flagSet.Bool("matrixRowMajor", defaults.MatrixRowMajor, "Maps to '-Zpr' DXC/FXC option: pack matrices in row-major order")
		hlsl2021     = flagSet.Bool("hlsl2021", defaults.Hlsl2021, "Maps to '-HV 2021' DXC option: enable HLSL 2021")
		memLayout    = flagSet.String("vulkanMemoryLayout", defaults.VulkanMemoryLayout, "SPIRV only: memory layout: dx, gl or scalar")
		slang        = flagSet.Bool("slang", defaults.Slang, "Compiler is Slang")

		force      = flagSet.Bool("f", defaults.Force, "Treat all source files as modified")
		sourceDir  = flagSet.String("sourceDir", defaults.SourceDir, "Source code directory")
		outputExt  = flagSet.String("outputExt", defaults.OutputExt, "Extension for output files, default is one of .dxbc, .dxil, .spirv")
		serial     = flagSet.Bool("serial", defaults.Serial, "Disable multi-threading")
		flatten    = flagSet.Bool("flatten", defaults.Flatten, "Flatten source directory structure in the output directory")
		contOnErr  = flagSet.Bool("continue", defaults.Continue, "Continue compilation if an error is occured")
		useAPI     = flagSet.Bool("useAPI", defaults.UseAPI, "Use FXC (d3dcompiler) or DXC (dxcompiler) API explicitly (Windows only)")
		colorize   = flagSet.Bool("colorize", defaults.Colorize, "Colorize console output")
		verbose    = flagSet.Bool("verbose", defaults.Verbose, "Print commands before they are executed")
		retryCount = flagSet.Int("retryCount", defaults.RetryCount, "Retry count for compilation task sub-process failures")
		watch      = flagSet.Bool("watch", defaults.Watch, "Watch the source tree and recompile on changes")

		vulkanVersion = flagSet.String("vulkanVersion", defaults.VulkanVersion, "Vulkan environment version, maps to '-fspv-target-env'")
		sRegShift     = flagSet.Uint("sRegShift", uint(defaults.SRegShift), "SPIRV: register shift for sampler (s#) resources")
		tRegShift     = flagSet.Uint("tRegShift", uint(defaults.TRegShift), "SPIRV: register shift for texture (t#) resources")
		bRegShift     = flagSet.Uint("bRegShift", uint(defaults.BRegShift), "SPIRV: register shift for constant (b#) resources")
		uRegShift     = flagSet.Uint("uRegShift", uint(defaults.URegShift), "SPIRV: register shift for UAV (u#) resources")
		noRegShifts   = flagSet.Bool("noRegShifts", defaults.NoRegShifts, "SPIRV: do not apply register shifts")
	)

	// value-only flag; already consumed above
	flagSet.String("settings", "", "TOML file with option defaults")

	includeDirs := stringList(defaults.Include)
	globalDefines := stringList(defaults.Define)
	relaxedIncludes := stringList(defaults.RelaxedInclude)
	spirvExtensions := stringList(defaults.SpirvExt)
	flagSet.Var(&includeDirs, "I", "Include directory(s)")
	flagSet.Var(&globalDefines, "D", "Macro definition(s) in forms 'M=value' or 'M'")
	flagSet.Var(&relaxedIncludes, "relaxedInclude", "Include file(s) not invoking re-compilation")
	flagSet.Var(&spirvExtensions, "spirvExt", "Maps to '-fspv-extension' option: add SPIR-V extension permitted to use")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	o := &Options{
		PlatformName:      *platformName,
		OutputDir:         *outputDir,
		SourceDir:         *sourceDir,
		Compiler:          *compiler,
		ShaderModel:       *shaderModel,
		VulkanVersion:     *vulkanVersion,
		VulkanMemLayout:   *memLayout,
		OutputExt:         *outputExt,
		IncludeDirs:       includeDirs,
		Defines:           globalDefines,
		RelaxedIncludes:   relaxedIncludes,
		SpirvExtensions:   spirvExtensions,
		SRegShift:         uint32(*sRegShift),
		TRegShift:         uint32(*tRegShift),
		BRegShift:         uint32(*bRegShift),
		URegShift:         uint32(*uRegShift),
		OptimizationLevel: *optimization,
		RetryCount:        *retryCount,
		BinaryNeeded:      *binary,
		HeaderNeeded:      *header,
		BinaryBlobNeeded:  *binaryBlob,
		HeaderBlobNeeded:  *headerBlob,
		Force:             *force,
		Flatten:           *flatten,
		ContinueOnError:   *contOnErr,
		WarningsAreErrors: *wx,
		AllResourcesBound: *allResources,
		PDB:               *pdb,
		EmbedPDB:          *embedPDB,
		StripReflection:   *stripReflect,
		MatrixRowMajor:    *rowMajor,
		Hlsl2021:          *hlsl2021,
		Serial:            *serial,
		Verbose:           *verbose,
		Colorize:          *colorize,
		UseAPI:            *useAPI,
		Slang:             *slang,
		NoRegShifts:       *noRegShifts,
		Watch:             *watch,
	}

	if runtime.GOOS != "windows" && o.UseAPI {
		// The compiler APIs are Windows DLLs; fall back to sub-processes.
		core.LogDebug("useAPI is not available on %s, falling back to sub-process compilation", runtime.GOOS)
		o.UseAPI = false
	}

	if err := o.validate(*configPath); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *Options) validate(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file not specified")
	}
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file '%s' does not exist", configPath)
	}
	if o.OutputDir == "" {
		return fmt.Errorf("output directory not specified")
	}
	if !o.BinaryNeeded && !o.HeaderNeeded && !o.BinaryBlobNeeded && !o.HeaderBlobNeeded {
		return fmt.Errorf("at least one of 'binary', 'header', 'binaryBlob' or 'headerBlob' must be set")
	}
	if o.PlatformName == "" {
		return fmt.Errorf("platform not specified")
	}
	if !o.UseAPI {
		if o.Compiler == "" {
			return fmt.Errorf("compiler not specified")
		}
		if _, err := os.Stat(o.Compiler); err != nil {
			return fmt.Errorf("compiler '%s' does not exist", o.Compiler)
		}
	}
	if len(o.ShaderModel) != 3 || o.ShaderModel[1] != '_' {
		return fmt.Errorf("shader model ('%s') must have format 'X_Y'", o.ShaderModel)
	}
	if o.OptimizationLevel < 0 || o.OptimizationLevel > 3 {
		return fmt.Errorf("optimization level must be 0-3, got %d", o.OptimizationLevel)
	}
	if o.RetryCount < 0 {
		return fmt.Errorf("retry count must be non-negative, got %d", o.RetryCount)
	}

	found := false
	for i := Platform(0); i < platformsNum; i++ {
		if o.PlatformName == platformNames[i] {
			o.Platform = i
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unrecognized platform '%s'", o.PlatformName)
	}

	switch o.VulkanMemLayout {
	case "", "dx", "gl", "scalar":
	default:
		return fmt.Errorf("unrecognized Vulkan memory layout '%s'", o.VulkanMemLayout)
	}
	if o.VulkanMemLayout != "" && o.Platform != PlatformSPIRV {
		return fmt.Errorf("--vulkanMemoryLayout requires the SPIRV platform")
	}

	if o.OutputExt == "" {
		o.OutputExt = o.Platform.Ext()
	}

	// Absolute paths give "clickable" diagnostics for nested includes.
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot get the working directory: %w", err)
	}
	o.ConfigFile = configPath
	if !filepath.IsAbs(o.ConfigFile) {
		o.ConfigFile = filepath.Join(cwd, o.ConfigFile)
	}

	configDir := filepath.Dir(o.ConfigFile)
	for i, dir := range o.IncludeDirs {
		if !filepath.IsAbs(dir) {
			o.IncludeDirs[i] = filepath.Join(configDir, dir)
		}
	}

	return nil
}

// settingsPath pre-scans the raw arguments for --settings so the defaults
// file can be applied before the flag set parses.
func settingsPath(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(arg, "=")
		if name != "-settings" && name != "--settings" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
