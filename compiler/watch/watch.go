// Package watch reruns the plan/compile cycle whenever the source tree,
// the include directories, or the config file change.
package watch

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/shadermake/compiler/core"
	"github.com/spaghettifunk/shadermake/compiler/options"
)

const settleDelay = 300 * time.Millisecond

var watchedExtensions = []string{".hlsl", ".hlsli", ".slang", ".slangh", ".cfg"}

// Run blocks, invoking rebuild after every burst of relevant filesystem
// events, until the terminate flag is set.
func Run(opts *options.Options, terminate *atomic.Bool, rebuild func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	roots := []string{
		filepath.Dir(opts.ConfigFile),
		filepath.Join(filepath.Dir(opts.ConfigFile), opts.SourceDir),
	}
	roots = append(roots, opts.IncludeDirs...)

	seen := map[string]bool{}
	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() || seen[path] {
				return nil
			}
			seen[path] = true
			if err := watcher.Add(path); err != nil {
				core.LogWarn("can't watch '%s': %v", path, err)
			}
			return nil
		})
	}

	core.LogInfo("watching %d directories for shader changes", len(seen))

	// Events arrive in bursts (editors write, rename, chmod); let them
	// settle before rebuilding.
	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}

	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(opts, event.Name) {
				continue
			}
			settle.Reset(settleDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			core.LogError("watch error: %v", err)

		case <-settle.C:
			rebuild()

		case <-poll.C:
			if terminate.Load() {
				return nil
			}
		}
	}
}

func relevant(opts *options.Options, path string) bool {
	if path == opts.ConfigFile {
		return true
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, watched := range watchedExtensions {
		if ext == watched {
			return true
		}
	}
	return false
}
