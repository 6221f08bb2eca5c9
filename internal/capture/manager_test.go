package capture

import (
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu     sync.Mutex
	frames []RawFrame
	i      int
	closed bool
}

func (f *fakeBackend) Capture() (RawFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return RawFrame{}, ErrBackendStopped
	}
	if f.i >= len(f.frames) {
		f.i = len(f.frames) - 1
	}
	fr := f.frames[f.i]
	f.i++
	return fr, nil
}

func (f *fakeBackend) DisplayID() uint32          { return 0 }
func (f *fakeBackend) Bounds() (int, int, error)  { return 2, 2, nil }
func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeWindower struct {
	mu  sync.Mutex
	win WindowInfo
}

func (f *fakeWindower) ActiveWindow() (WindowInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.win, nil
}

func (f *fakeWindower) set(w WindowInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.win = w
}

func solidFrame(shade byte) RawFrame {
	pix := make([]byte, 2*2*4)
	for i := range pix {
		pix[i] = shade
	}
	return RawFrame{Width: 2, Height: 2, BytesPerRow: 8, Pix: pix, CapturedAt: time.Now()}
}

func TestIsWindowChangeIgnoresNearDuplicateTitles(t *testing.T) {
	m := New(Config{WindowChangeDebounce: 0}, nil, 0)
	m.lastWindow = WindowInfo{BundleID: "com.apple.Safari", WindowName: "GitHub"}
	m.lastWindowChange = time.Now().Add(-time.Hour)

	got := m.isWindowChange(WindowInfo{BundleID: "com.apple.Safari", WindowName: "GitHub - Pull Request"})
	if got {
		t.Fatal("isWindowChange should ignore a title that merely extends the previous one for the same bundle")
	}
}

func TestIsWindowChangeDetectsNewBundle(t *testing.T) {
	m := New(Config{WindowChangeDebounce: 0}, nil, 0)
	m.lastWindow = WindowInfo{BundleID: "com.apple.Safari", WindowName: "GitHub"}
	m.lastWindowChange = time.Now().Add(-time.Hour)

	got := m.isWindowChange(WindowInfo{BundleID: "com.apple.Terminal", WindowName: "zsh"})
	if !got {
		t.Fatal("isWindowChange should fire for a new bundle")
	}
}

func TestIsWindowChangeRespectsDebounce(t *testing.T) {
	m := New(Config{WindowChangeDebounce: time.Minute}, nil, 0)
	m.lastWindow = WindowInfo{BundleID: "com.apple.Safari", WindowName: "GitHub"}
	m.lastWindowChange = time.Now()

	got := m.isWindowChange(WindowInfo{BundleID: "com.apple.Terminal", WindowName: "zsh"})
	if got {
		t.Fatal("isWindowChange should be suppressed within the debounce window")
	}
}

func TestHandleFrameDedupsIdenticalFrames(t *testing.T) {
	m := New(Config{DedupThreshold: 0.98, WindowChangeDebounce: time.Hour}, &fakeWindower{}, 0)
	m.lastWindowChange = time.Now()

	go func() {
		m.handleFrame(solidFrame(10))
		m.handleFrame(solidFrame(10)) // identical: deduped, no emit
		close(m.out)
	}()

	var frames []Frame
	for f := range m.out {
		frames = append(frames, f)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (second identical frame should be deduped)", len(frames))
	}
}
