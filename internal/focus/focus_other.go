//go:build !linux

package focus

type unsupportedProvider struct{}

func newPlatformProvider() Provider {
	return unsupportedProvider{}
}

func (unsupportedProvider) Lookup() (Info, error) {
	return Info{}, ErrNoFocus
}

func (unsupportedProvider) Available() (bool, string) {
	return false, "focus introspection not supported on this platform"
}
