//go:build !windows

package workers

import "github.com/spaghettifunk/shadermake/compiler/options"

// The compiler APIs live in Windows DLLs; elsewhere useAPI has already been
// downgraded at option-parse time, so this path is unreachable in practice.
func newAPIBackend(opts *options.Options) (Backend, error) {
	return &exeBackend{opts: opts}, nil
}
