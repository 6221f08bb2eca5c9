// Package capture implements the capture manager (C5): it drives a
// platform capture backend (C11), stamps frames with focus metadata, runs
// perceptual-hash deduplication, and applies the window-change and
// multi-display policies, emitting a single deduplicated frame stream.
//
// Directly grounded on the teacher's internal/remote/desktop ScreenCapturer
// interface and platform-capturer factory, generalized from a single
// on-demand capture call (serving a live remote-desktop viewer) to a
// continuous polling loop feeding raw and deduped channels.
package capture

import (
	"fmt"
	"time"
)

// ErrNotSupported is returned when screen capture is not supported on the
// platform or build configuration.
var ErrNotSupported = fmt.Errorf("capture: screen capture not supported on this platform")

// ErrPermissionDenied is returned when the OS denies screen-recording
// permission.
var ErrPermissionDenied = fmt.Errorf("capture: screen capture permission denied")

// ErrDisplayNotFound is returned when the requested display id has no
// matching backend.
var ErrDisplayNotFound = fmt.Errorf("capture: display not found")

// ErrBackendStopped is returned by Capture once the backend has been
// closed, signalling the capture manager's worker to drain and exit.
var ErrBackendStopped = fmt.Errorf("capture: backend stopped")

// RawFrame is one BGRA frame produced by a Backend, before dedup or
// metadata enrichment.
type RawFrame struct {
	Width       int
	Height      int
	BytesPerRow int
	Pix         []byte // BGRA, row-major
	CapturedAt  time.Time
	DisplayID   uint32
}

// Backend is the external collaborator (C11) contract: it produces raw
// BGRA frames for one physical display. Capture blocks until a frame is
// ready, the backend is closed (ErrBackendStopped), or permission is
// revoked (ErrPermissionDenied).
type Backend interface {
	Capture() (RawFrame, error)
	DisplayID() uint32
	Bounds() (width, height int, err error)
	Close() error
}

// DisplayInfo describes one enumerated physical display.
type DisplayInfo struct {
	ID     uint32
	Name   string
	Width  int
	Height int
}

// NewBackend opens a capture backend for the given display index (0 =
// primary). Platform-specific; see backend_linux.go and the stub
// implementations for other platforms.
func NewBackend(displayIndex int) (Backend, error) {
	return newPlatformBackend(displayIndex)
}

// EnumerateDisplays lists the currently connected physical displays.
func EnumerateDisplays() ([]DisplayInfo, error) {
	return enumeratePlatformDisplays()
}
