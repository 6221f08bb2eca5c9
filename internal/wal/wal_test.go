package wal

import (
	"os"
	"testing"
	"time"
)

func TestCreateAppendReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	s, err := m.CreateSession(42)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	pix := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frame := Frame{
		Timestamp:   time.Now(),
		Width:       2,
		Height:      1,
		BytesPerRow: 8,
		Pix:         pix,
		Meta: FrameMetadata{
			AppBundleID: "com.example.app",
			AppName:     "Example",
			WindowName:  "Main Window",
			BrowserURL:  "",
			DisplayID:   1,
		},
	}

	if err := m.AppendFrame(s, frame); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if s.FrameCount() != 1 {
		t.Fatalf("FrameCount = %d, want 1", s.FrameCount())
	}

	frames, err := m.ReadFrames(s)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Meta.AppBundleID != "com.example.app" {
		t.Fatalf("AppBundleID = %q", frames[0].Meta.AppBundleID)
	}
	if string(frames[0].Pix) != string(pix) {
		t.Fatalf("pixel bytes mismatch")
	}
}

func TestListActiveSessionsSkipsUnrelatedDirs(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	if _, err := m.CreateSession(1); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := os.Mkdir(root+"/not_a_session", 0700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	sessions, err := m.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].VideoID() != 1 {
		t.Fatalf("VideoID = %d, want 1", sessions[0].VideoID())
	}
}

func TestFinalizeSessionRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	s, err := m.CreateSession(7)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.FinalizeSession(s); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}

	sessions, err := m.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after finalize, got %d", len(sessions))
	}
}

func TestReadFramesToleratesPartialTrailingRecord(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	s, err := m.CreateSession(3)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	frame := Frame{
		Timestamp:   time.Now(),
		Width:       1,
		Height:      1,
		BytesPerRow: 4,
		Pix:         []byte{9, 9, 9, 9},
	}
	if err := m.AppendFrame(s, frame); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}

	// Simulate a crash mid-write: append a truncated header-only record.
	f, err := os.OpenFile(s.FramesPath(), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.Write([]byte{0, 1, 2}); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	frames, err := m.ReadFrames(s)
	if err != nil {
		t.Fatalf("ReadFrames should not error on partial trailing record: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (partial trailing record ignored)", len(frames))
	}
}
