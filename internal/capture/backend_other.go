//go:build !linux || !cgo

package capture

// newPlatformBackend is a stub for platforms/build configurations without
// a real capture backend wired up yet (darwin/windows native backends and
// the cgo-disabled linux build).
func newPlatformBackend(displayIndex int) (Backend, error) {
	return nil, ErrNotSupported
}

func enumeratePlatformDisplays() ([]DisplayInfo, error) {
	return nil, ErrNotSupported
}
