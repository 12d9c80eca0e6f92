//go:build !linux

package keystroke

import (
	"context"
)

// stubSource is used on platforms without an input hook.
type stubSource struct{}

func newPlatformSource(Options) Source {
	return stubSource{}
}

// Available returns false on unsupported platforms.
func (stubSource) Available() (bool, string) {
	return false, "input hook not implemented for this platform"
}

// Start returns ErrNotAvailable on unsupported platforms.
func (stubSource) Start(context.Context, Handler) error {
	return ErrNotAvailable
}

// Stop is a no-op on unsupported platforms.
func (stubSource) Stop() error {
	return nil
}
