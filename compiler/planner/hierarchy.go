package planner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// The include scan is textual: #include lines inside comments or disabled
// preprocessor blocks still count, which errs on the side of rebuilding.
var includePattern = regexp.MustCompile(`^\s*#include\s+["<]([^>"]+)[>"].*$`)

// HierarchicalUpdateTime returns the maximum last-write-time across the
// file and the transitive closure of its non-relaxed #include dependencies.
// Results are memoized per absolute path; the memo also terminates cyclic
// include graphs. callStack carries the include chain for diagnostics.
func (p *Planner) HierarchicalUpdateTime(file string, callStack []string) (time.Time, error) {
	key, err := filepath.Abs(file)
	if err != nil {
		key = file
	}

	if cached, ok := p.hierarchyTimes[key]; ok {
		return cached, nil
	}

	stream, err := os.Open(file)
	if err != nil {
		return time.Time{}, fmt.Errorf("can't open file '%s', included in:\n%s", file, formatCallStack(callStack))
	}
	defer stream.Close()

	info, err := stream.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("can't stat file '%s': %w", file, err)
	}

	callStack = append([]string{file}, callStack...)

	dir := filepath.Dir(file)
	hierarchyTime := info.ModTime()

	// Provisional entry: an include cycle back to this file stops here.
	p.hierarchyTimes[key] = hierarchyTime

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		match := includePattern.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}

		includeName := match[1]
		if p.isRelaxedInclude(includeName) {
			continue
		}

		includeFile, found := p.resolveInclude(dir, includeName)
		if !found {
			return time.Time{}, fmt.Errorf("can't find include file '%s', included in:\n%s", includeName, formatCallStack(callStack))
		}

		dependencyTime, err := p.HierarchicalUpdateTime(includeFile, callStack)
		if err != nil {
			return time.Time{}, err
		}

		if dependencyTime.After(hierarchyTime) {
			hierarchyTime = dependencyTime
		}
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("can't read file '%s': %w", file, err)
	}

	p.hierarchyTimes[key] = hierarchyTime

	return hierarchyTime, nil
}

// resolveInclude tries the including file's directory first, then the
// configured include directories in order.
func (p *Planner) resolveInclude(parentDir, name string) (string, bool) {
	candidate := filepath.Join(parentDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}

	for _, includeDir := range p.opts.IncludeDirs {
		candidate = filepath.Join(includeDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	return "", false
}

func (p *Planner) isRelaxedInclude(name string) bool {
	cleaned := filepath.ToSlash(name)
	for _, relaxed := range p.opts.RelaxedIncludes {
		if cleaned == filepath.ToSlash(relaxed) {
			return true
		}
	}
	return false
}

func formatCallStack(callStack []string) string {
	var sb strings.Builder
	for _, file := range callStack {
		sb.WriteString("\t")
		sb.WriteString(file)
		sb.WriteString("\n")
	}
	return sb.String()
}
