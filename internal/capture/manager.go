package capture

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/phash"
)

var log = logging.L("capture")

// Frame is one enriched, deduped frame handed to the segment writer.
type Frame struct {
	RawFrame
	Meta FrameMetadata
}

// FrameMetadata mirrors wal.FrameMetadata without importing internal/wal,
// keeping this package usable independent of the WAL's on-disk format.
type FrameMetadata struct {
	AppBundleID string
	AppName     string
	WindowName  string
	BrowserURL  string
	DisplayID   uint32
	IsFocused   bool
}

// Config tunes the manager's polling interval, dedup threshold and
// window-change debounce.
type Config struct {
	CaptureInterval        time.Duration
	WindowChangeDebounce    time.Duration
	DedupThreshold          float64
	DedupSampleGridSize     int
}

// Manager drives one Backend, stamping and deduplicating its frames into a
// single output channel. Grounded on the teacher's Session capture loop
// (capturerSwapped/oldCapturers monitor-switch handling), generalized from
// a single WebRTC viewer's live capture loop to a continuously running,
// consumer-agnostic deduped stream.
type Manager struct {
	cfg      Config
	windower WindowInfoProvider

	mu           sync.Mutex
	backend      Backend
	oldBackends  []Backend
	displayIndex int
	newBackend   func(int) (Backend, error)

	out     chan Frame
	stopped chan struct{}
	done    chan struct{}
	running atomic.Bool

	lastKept        *phash.Frame
	lastWindow      WindowInfo
	lastWindowChange time.Time
}

// New creates a Manager bound to the given display index. Call Start to
// begin the capture loop.
func New(cfg Config, windower WindowInfoProvider, displayIndex int) *Manager {
	if windower == nil {
		windower = NewNoopWindowInfoProvider()
	}
	return &Manager{
		cfg:          cfg,
		windower:     windower,
		displayIndex: displayIndex,
		newBackend:   NewBackend,
		out:          make(chan Frame, 4),
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Frames returns the deduplicated, enriched frame stream.
func (m *Manager) Frames() <-chan Frame { return m.out }

// Stopped is closed once the capture loop exits (backend closed, permission
// revoked, or explicit Stop) and the worker has drained. Other capture
// errors skip the tick and do not stop the loop.
func (m *Manager) Stopped() <-chan struct{} { return m.stopped }

// Start checks backend availability, opens it, and spawns the polling
// worker. Safe to call once per Manager.
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("capture: manager already started")
	}

	backend, err := m.newBackend(m.displayIndex)
	if err != nil {
		m.running.Store(false)
		return fmt.Errorf("capture: start: %w", err)
	}

	m.mu.Lock()
	m.backend = backend
	m.mu.Unlock()

	go m.loop()
	return nil
}

// Stop closes the active backend and waits for the worker to drain.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	if m.backend != nil {
		m.backend.Close()
	}
	m.mu.Unlock()
	<-m.done
}

// SwitchDisplay opens a backend for the new display and makes it the one
// the loop captures from, so downstream consumers see an unbroken stream.
// The previous backend is kept in oldBackends and closed when the loop
// exits.
func (m *Manager) SwitchDisplay(displayIndex int) error {
	newBackend, err := m.newBackend(displayIndex)
	if err != nil {
		return fmt.Errorf("capture: switch display: %w", err)
	}

	m.mu.Lock()
	if m.backend != nil {
		m.oldBackends = append(m.oldBackends, m.backend)
	}
	m.backend = newBackend
	m.displayIndex = displayIndex
	m.mu.Unlock()

	log.Info("display switched", "displayId", displayIndex)
	return nil
}

func (m *Manager) loop() {
	defer close(m.done)
	defer close(m.stopped)
	defer close(m.out)

	ticker := time.NewTicker(m.cfg.CaptureInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		backend := m.backend
		m.mu.Unlock()
		if backend == nil {
			break
		}

		raw, err := backend.Capture()
		if err != nil {
			if err == ErrBackendStopped || err == ErrPermissionDenied {
				log.Info("capture backend stopped", "error", err)
				break
			}
			log.Warn("capture failed, skipping tick", "error", err)
			continue
		}

		m.handleFrame(raw)

		if !m.running.Load() {
			break
		}
	}

	m.mu.Lock()
	for _, oc := range m.oldBackends {
		oc.Close()
	}
	m.oldBackends = nil
	m.mu.Unlock()
}

func (m *Manager) handleFrame(raw RawFrame) {
	win, err := m.windower.ActiveWindow()
	if err != nil {
		log.Warn("window info lookup failed", "error", err)
	}

	if m.isWindowChange(win) {
		m.lastWindow = win
		m.lastWindowChange = raw.CapturedAt
		m.emit(raw, win)
		return
	}

	candidate := phash.Frame{Width: raw.Width, Height: raw.Height, BytesPerRow: raw.BytesPerRow, Pix: raw.Pix}
	if !phash.ShouldKeep(candidate, m.lastKept, m.cfg.DedupThreshold) {
		return
	}
	m.lastKept = &candidate
	m.emit(raw, win)
}

// isWindowChange implements the window-change capture policy: emit
// immediately and reset the debounce timer only if the new (bundleId,
// windowName) pair is not a near-duplicate of the previous one (one title
// containing the other, same bundle => ignore) and the debounce interval
// has elapsed since the last window-change capture.
func (m *Manager) isWindowChange(win WindowInfo) bool {
	if win.BundleID == "" {
		return false
	}
	if win.BundleID == m.lastWindow.BundleID && win.WindowName == m.lastWindow.WindowName {
		return false
	}
	if win.BundleID == m.lastWindow.BundleID && titlesNearDuplicate(win.WindowName, m.lastWindow.WindowName) {
		return false
	}
	if time.Since(m.lastWindowChange) < m.cfg.WindowChangeDebounce {
		return false
	}
	return true
}

func titlesNearDuplicate(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func (m *Manager) emit(raw RawFrame, win WindowInfo) {
	frame := Frame{
		RawFrame: raw,
		Meta: FrameMetadata{
			AppBundleID: win.BundleID,
			AppName:     win.AppName,
			WindowName:  win.WindowName,
			BrowserURL:  win.BrowserURL,
			DisplayID:   raw.DisplayID,
			IsFocused:   win.IsFocused,
		},
	}
	select {
	case m.out <- frame:
	default:
		log.Warn("downstream consumer slow, dropping frame", "displayId", raw.DisplayID)
	}
}
