//go:build windows

package workers

import "github.com/spaghettifunk/shadermake/compiler/options"

func newAPIBackend(opts *options.Options) (Backend, error) {
	if opts.Platform == options.PlatformDXBC {
		return newFxcBackend(opts)
	}
	return newDxcBackend(opts)
}
