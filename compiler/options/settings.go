package options

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Settings mirrors the long command-line option names so a project can keep
// its invariant switches in a checked-in TOML file and leave only the
// per-invocation ones on the command line.
type Settings struct {
	Platform           string   `toml:"platform"`
	Config             string   `toml:"config"`
	Out                string   `toml:"out"`
	Compiler           string   `toml:"compiler"`
	SourceDir          string   `toml:"sourceDir"`
	OutputExt          string   `toml:"outputExt"`
	ShaderModel        string   `toml:"shaderModel"`
	VulkanVersion      string   `toml:"vulkanVersion"`
	VulkanMemoryLayout string   `toml:"vulkanMemoryLayout"`
	Include            []string `toml:"include"`
	Define             []string `toml:"define"`
	RelaxedInclude     []string `toml:"relaxedInclude"`
	SpirvExt           []string `toml:"spirvExt"`
	SRegShift          uint32   `toml:"sRegShift"`
	TRegShift          uint32   `toml:"tRegShift"`
	BRegShift          uint32   `toml:"bRegShift"`
	URegShift          uint32   `toml:"uRegShift"`
	OptimizationLevel  int      `toml:"optimization"`
	RetryCount         int      `toml:"retryCount"`
	Binary             bool     `toml:"binary"`
	Header             bool     `toml:"header"`
	BinaryBlob         bool     `toml:"binaryBlob"`
	HeaderBlob         bool     `toml:"headerBlob"`
	WX                 bool     `toml:"WX"`
	AllResourcesBound  bool     `toml:"allResourcesBound"`
	PDB                bool     `toml:"PDB"`
	EmbedPDB           bool     `toml:"embedPDB"`
	StripReflection    bool     `toml:"stripReflection"`
	MatrixRowMajor     bool     `toml:"matrixRowMajor"`
	Hlsl2021           bool     `toml:"hlsl2021"`
	Slang              bool     `toml:"slang"`
	Force              bool     `toml:"force"`
	Serial             bool     `toml:"serial"`
	Flatten            bool     `toml:"flatten"`
	Continue           bool     `toml:"continue"`
	UseAPI             bool     `toml:"useAPI"`
	Colorize           bool     `toml:"colorize"`
	Verbose            bool     `toml:"verbose"`
	NoRegShifts        bool     `toml:"noRegShifts"`
	Watch              bool     `toml:"watch"`
}

func loadSettings(path string, into *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read settings file '%s': %w", path, err)
	}

	if err := toml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("cannot parse settings file '%s': %w", path, err)
	}

	return nil
}
