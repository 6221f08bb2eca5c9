package recovery

import (
	"testing"
	"time"

	"github.com/framefault/recorder/internal/secmem"
	"github.com/framefault/recorder/internal/store"
	"github.com/framefault/recorder/internal/wal"
)

func TestChunkFramesSplitsAtMaxSize(t *testing.T) {
	frames := make([]recoveredFrame, 320)
	chunks := chunkFrames(frames, 150)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 150 || len(chunks[1]) != 150 || len(chunks[2]) != 20 {
		t.Fatalf("chunk sizes = %d,%d,%d, want 150,150,20", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestChunkFramesDefaultsMaxFramesWhenUnset(t *testing.T) {
	frames := make([]recoveredFrame, 10)
	chunks := chunkFrames(frames, 0)
	if len(chunks) != 1 || len(chunks[0]) != 10 {
		t.Fatalf("expected one chunk of 10 with default max, got %d chunks", len(chunks))
	}
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	d, err := store.Open(t.TempDir()+"/index.db", secmem.NewSecureString("pw"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestInsertFrameRowsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpsertDisplay(1, "Display 1", 1000); err != nil {
		t.Fatalf("UpsertDisplay: %v", err)
	}
	videoID, err := db.CreateVideoSegment(1, 1920, 1080, 30, "segments/2026/01/01/segment_1")
	if err != nil {
		t.Fatalf("CreateVideoSegment: %v", err)
	}

	m := &Manager{db: db, enqueue: func(int64) {}}

	ts := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	chunk := []recoveredFrame{
		{Frame: wal.Frame{Timestamp: ts, Width: 1920, Height: 1080, Meta: wal.FrameMetadata{AppBundleID: "com.apple.Safari", WindowName: "GitHub"}}, displayID: 1},
	}

	if err := m.insertFrameRows(chunk, videoID, 1); err != nil {
		t.Fatalf("insertFrameRows: %v", err)
	}
	count, err := db.CountFramesForVideo(videoID)
	if err != nil {
		t.Fatalf("CountFramesForVideo: %v", err)
	}
	if count != 1 {
		t.Fatalf("count after first insert = %d, want 1", count)
	}

	// Re-running over the same (already-recorded) timestamp must be a no-op.
	if err := m.insertFrameRows(chunk, videoID, 1); err != nil {
		t.Fatalf("insertFrameRows (second run): %v", err)
	}
	count, err = db.CountFramesForVideo(videoID)
	if err != nil {
		t.Fatalf("CountFramesForVideo: %v", err)
	}
	if count != 1 {
		t.Fatalf("count after repeated insert = %d, want 1 (idempotent)", count)
	}
}
