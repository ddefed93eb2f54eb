// Package planner turns the config file into the concrete set of
// compilation tasks for this run: it expands permutations, decides per task
// whether the existing outputs are still fresh, and registers blob groups.
package planner

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spaghettifunk/shadermake/compiler/configs"
	"github.com/spaghettifunk/shadermake/compiler/core"
	"github.com/spaghettifunk/shadermake/compiler/options"
)

// Task is a fully-resolved unit of work, self-contained so it can be
// reprocessed identically on retry.
type Task struct {
	Source               string
	EntryPoint           string
	Profile              string
	OutputFileWithoutExt string
	CombinedDefines      string
	Defines              []string
	OptimizationLevel    int
}

// SourceFile resolves the task's source path against the config location
// and the source root.
func (t *Task) SourceFile(opts *options.Options) string {
	return filepath.Join(filepath.Dir(opts.ConfigFile), opts.SourceDir, t.Source)
}

// BlobEntry names one compiled permutation inside a blob group.
type BlobEntry struct {
	PermutationFileWithoutExt string
	Permutation               string
}

// Plan is the planner output: the tasks to run and the blob registry, both
// frozen before the worker pool starts.
type Plan struct {
	Tasks []Task
	Blobs map[string][]BlobEntry
}

type Planner struct {
	opts           *options.Options
	hierarchyTimes map[string]time.Time
	configTime     time.Time

	tasks []Task
	blobs map[string][]BlobEntry
}

func New(opts *options.Options) *Planner {
	return &Planner{
		opts:           opts,
		hierarchyTimes: map[string]time.Time{},
		blobs:          map[string][]BlobEntry{},
	}
}

// Plan reads the config file and produces the task set and blob registry.
func (p *Planner) Plan() (*Plan, error) {
	configInfo, err := os.Stat(p.opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("can't stat config file '%s': %w", p.opts.ConfigFile, err)
	}
	p.configTime = configInfo.ModTime()

	// A newer driver binary invalidates everything it previously built.
	if self, err := os.Executable(); err == nil {
		if selfInfo, err := os.Stat(self); err == nil && selfInfo.ModTime().After(p.configTime) {
			p.configTime = selfInfo.ModTime()
		}
	}

	stream, err := os.Open(p.opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("can't open config file '%s': %w", p.opts.ConfigFile, err)
	}
	defer stream.Close()

	blocks := configs.NewBlockStack()

	scanner := bufio.NewScanner(stream)
	for lineIndex := 0; scanner.Scan(); lineIndex++ {
		line := configs.Trim(scanner.Text())

		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		isDirective, err := blocks.Directive(line, p.opts.Defines)
		if err != nil {
			return nil, p.lineError(lineIndex, err)
		}
		if isDirective || !blocks.Active() {
			continue
		}

		expanded, err := configs.ExpandPermutations(line)
		if err != nil {
			return nil, p.lineError(lineIndex, err)
		}

		for _, permutation := range expanded {
			if err := p.processLine(lineIndex, permutation); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("can't read config file '%s': %w", p.opts.ConfigFile, err)
	}

	return &Plan{Tasks: p.tasks, Blobs: p.blobs}, nil
}

func (p *Planner) processLine(lineIndex int, line string) error {
	tokens, err := configs.Tokenize(line)
	if err != nil {
		return p.lineError(lineIndex, err)
	}

	configLine, err := configs.ParseLine(tokens)
	if err != nil {
		return p.lineError(lineIndex, fmt.Errorf("can't parse config line: %w", err))
	}

	// DXBC: skip unsupported profiles
	if p.opts.Platform == options.PlatformDXBC {
		switch configLine.Profile {
		case "lib", "ms", "as":
			return nil
		}
	}

	combinedDefines := configLine.CombinedDefines()

	// Compiled shader name
	shaderName := stripExtension(removeLeadingDotDots(configLine.Source))
	if p.opts.Flatten || configLine.OutputDir != "" {
		shaderName = filepath.Base(shaderName)
	}
	if configLine.EntryPoint != "main" {
		shaderName += "_" + configLine.EntryPoint
	}

	// Compiled shader permutation name
	permutationName := shaderName
	if len(configLine.Defines) > 0 {
		permutationName += fmt.Sprintf("_%08X", PermutationHash(combinedDefines))
	}

	outputDir := filepath.Join(p.opts.OutputDir, configLine.OutputDir)

	// Create intermediate output directories; a created directory means the
	// outputs cannot exist yet, so the task must build.
	force := p.opts.Force
	endPath := filepath.Join(outputDir, filepath.Dir(shaderName))
	if p.opts.PDB {
		endPath = filepath.Join(endPath, options.PdbDir)
	}
	if _, err := os.Stat(endPath); os.IsNotExist(err) {
		if err := os.MkdirAll(endPath, 0o755); err != nil {
			return fmt.Errorf("can't create output directory '%s': %w", endPath, err)
		}
		force = true
	}

	// Freshness: all requested output forms must exist and be newer than
	// the source hierarchy.
	rebuild := force
	if !rebuild {
		outputTime, allExist := p.outputsTime(outputDir, shaderName, permutationName)
		if !allExist {
			rebuild = true
		} else {
			sourceFile := filepath.Join(filepath.Dir(p.opts.ConfigFile), p.opts.SourceDir, configLine.Source)

			sourceTime, err := p.HierarchicalUpdateTime(sourceFile, nil)
			if err != nil {
				return err
			}
			if p.configTime.After(sourceTime) {
				sourceTime = p.configTime
			}

			rebuild = !outputTime.After(sourceTime)
		}
	}

	permutationFileWithoutExt := filepath.Join(outputDir, permutationName)

	// Blob registration is unconditional: the assembler reads existing
	// permutation files from disk even when the task itself is up to date.
	if p.opts.AnyBlobNeeded() {
		blobName := filepath.Join(outputDir, shaderName)
		p.blobs[blobName] = append(p.blobs[blobName], BlobEntry{
			PermutationFileWithoutExt: permutationFileWithoutExt,
			Permutation:               combinedDefines,
		})
	}

	if !rebuild {
		return nil
	}

	optimizationLevel := configLine.OptimizationLevel
	if optimizationLevel == options.UseGlobalOptimizationLevel {
		optimizationLevel = p.opts.OptimizationLevel
	}
	optimizationLevel = core.Clamp(optimizationLevel, 0, 3)

	p.tasks = append(p.tasks, Task{
		Source:               configLine.Source,
		EntryPoint:           configLine.EntryPoint,
		Profile:              configLine.Profile,
		OutputFileWithoutExt: permutationFileWithoutExt,
		CombinedDefines:      combinedDefines,
		Defines:              configLine.Defines,
		OptimizationLevel:    optimizationLevel,
	})

	return nil
}

// outputsTime returns the oldest modification time across the output forms
// requested for this task, and whether all of them exist.
func (p *Planner) outputsTime(outputDir, shaderName, permutationName string) (time.Time, bool) {
	var required []string
	if p.opts.BinaryNeeded {
		required = append(required, filepath.Join(outputDir, permutationName)+p.opts.OutputExt)
	}
	if p.opts.HeaderNeeded {
		required = append(required, filepath.Join(outputDir, permutationName)+p.opts.OutputExt+".h")
	}
	if p.opts.BinaryBlobNeeded {
		required = append(required, filepath.Join(outputDir, shaderName)+p.opts.OutputExt)
	}
	if p.opts.HeaderBlobNeeded {
		required = append(required, filepath.Join(outputDir, shaderName)+p.opts.OutputExt+".h")
	}

	var oldest time.Time
	for i, file := range required {
		info, err := os.Stat(file)
		if err != nil {
			return time.Time{}, false
		}
		if i == 0 || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}

	return oldest, true
}

func (p *Planner) lineError(lineIndex int, err error) error {
	return fmt.Errorf("%s(%d,0): %w", p.opts.ConfigFile, lineIndex+1, err)
}

// PermutationHash folds a 64-bit FNV-1a hash of the combined-defines string
// into the 32-bit permutation suffix.
func PermutationHash(combinedDefines string) uint32 {
	h := fnv.New64a()
	h.Write([]byte(combinedDefines))
	sum := h.Sum64()

	return uint32(sum) ^ uint32(sum>>32)
}

// removeLeadingDotDots drops any "../" prefix elements so outputs always
// land inside the output directory.
func removeLeadingDotDots(path string) string {
	cleaned := filepath.ToSlash(path)
	for {
		rest, found := strings.CutPrefix(cleaned, "../")
		if !found {
			break
		}
		cleaned = rest
	}
	return filepath.FromSlash(cleaned)
}

func stripExtension(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
