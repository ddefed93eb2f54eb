// Package configs parses the shader list configuration file: one shader per
// logical line, gated by a small conditional-inclusion preprocessor, with
// brace alternatives expanding into a Cartesian product of permutations.
package configs

import (
	"flag"
	"fmt"
	"io"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/spaghettifunk/shadermake/compiler/options"
)

// Line is one parsed config line after brace expansion.
type Line struct {
	Source            string
	EntryPoint        string
	Profile           string
	OutputDir         string // per-line output subdirectory
	OptimizationLevel int    // options.UseGlobalOptimizationLevel when inherited
	Defines           []string
}

// Trim normalizes a raw config line: surrounding whitespace removed, tabs
// turned into spaces, runs of spaces collapsed.
func Trim(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\t", " ")

	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}

	return s
}

// Tokenize splits a config line into tokens, keeping double-quoted spans
// together and dropping the quotes.
func Tokenize(line string) ([]string, error) {
	parser := shellwords.NewParser()

	tokens, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("cannot tokenize config line: %w", err)
	}

	return tokens, nil
}

type defineList []string

func (d *defineList) String() string {
	return strings.Join(*d, " ")
}

func (d *defineList) Set(value string) error {
	*d = append(*d, value)
	return nil
}

// ParseLine parses the tokens of one fully-expanded config line. The first
// token is the shader source path; the rest are per-line options.
func ParseLine(tokens []string) (*Line, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty config line")
	}

	line := &Line{
		Source:            tokens[0],
		EntryPoint:        "main",
		OptimizationLevel: options.UseGlobalOptimizationLevel,
	}

	flagSet := flag.NewFlagSet("configLine", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	profile := flagSet.String("T", "", "shader profile")
	entryPoint := flagSet.String("E", "main", "entry point")
	outputDir := flagSet.String("o", "", "output directory override")
	optimization := flagSet.Int("O", options.UseGlobalOptimizationLevel, "optimization level")
	defines := defineList{}
	flagSet.Var(&defines, "D", "define(s) in forms 'M=value' or 'M'")

	if err := flagSet.Parse(tokens[1:]); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected token '%s'", flagSet.Arg(0))
	}

	if *profile == "" {
		return nil, fmt.Errorf("shader target not specified")
	}

	line.Profile = *profile
	line.EntryPoint = *entryPoint
	line.OutputDir = *outputDir
	line.OptimizationLevel = *optimization
	line.Defines = defines

	return line, nil
}

// CombinedDefines joins the local defines in config order, the canonical
// form used for permutation hashing and blob entry naming.
func (l *Line) CombinedDefines() string {
	return strings.Join(l.Defines, " ")
}
