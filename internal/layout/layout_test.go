package layout

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSegmentPathIsDateBucketed(t *testing.T) {
	m := NewManager("/data/recorder")
	date := time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC)

	got := m.SegmentPath(date, 42)
	want := filepath.Join("/data/recorder", "segments", "2026", "03", "07", "segment_42")
	if got != want {
		t.Fatalf("SegmentPath = %q, want %q", got, want)
	}
}

func TestRelativeRejectsEscapingPaths(t *testing.T) {
	m := NewManager("/data/recorder")
	if _, err := m.Relative("/etc/passwd"); err == nil {
		t.Fatal("Relative should reject a path outside the storage root")
	}
}

func TestRelativeAndAbsoluteRoundTrip(t *testing.T) {
	m := NewManager("/data/recorder")
	date := time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)
	abs := m.SegmentPath(date, 1)

	rel, err := m.Relative(abs)
	if err != nil {
		t.Fatalf("Relative: %v", err)
	}
	if got := m.Absolute(rel); got != abs {
		t.Fatalf("Absolute(Relative(abs)) = %q, want %q", got, abs)
	}
}

func TestWALRootAndTempDirAreSiblingsOfSegments(t *testing.T) {
	m := NewManager("/data/recorder")
	if m.WALRoot() != "/data/recorder/wal" {
		t.Fatalf("WALRoot() = %q", m.WALRoot())
	}
	if m.TempDir() != "/data/recorder/temp" {
		t.Fatalf("TempDir() = %q", m.TempDir())
	}
}
