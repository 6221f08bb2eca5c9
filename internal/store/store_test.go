package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/framefault/recorder/internal/secmem"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	d, err := Open(path, secmem.NewSecureString("test-passphrase"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenRunsMigrationsToLatestVersion(t *testing.T) {
	d := openTestDB(t)

	if err := d.UpsertDisplay(1, "Built-in Display", 1000); err != nil {
		t.Fatalf("UpsertDisplay: %v", err)
	}
	// daily_metrics comes from the last migration (000009).
	if _, err := d.RecordMetric(MetricCaptureStarted, 1000, ""); err != nil {
		t.Fatalf("RecordMetric: %v", err)
	}
}

func TestVideoSegmentOpenCloseLifecycle(t *testing.T) {
	d := openTestDB(t)
	if err := d.UpsertDisplay(1, "Display 1", 1000); err != nil {
		t.Fatalf("UpsertDisplay: %v", err)
	}

	id, err := d.CreateVideoSegment(1, 1920, 1080, 30, "segments/2026/03/07/segment_1")
	if err != nil {
		t.Fatalf("CreateVideoSegment: %v", err)
	}

	// A second open segment for the same (display, width, height) must be
	// rejected by the partial unique index.
	if _, err := d.CreateVideoSegment(1, 1920, 1080, 30, "segments/2026/03/07/segment_2"); err == nil {
		t.Fatal("expected second open video segment for the same display+resolution to fail")
	}

	if err := d.FinalizeVideoSegment(id, 4096, 150); err != nil {
		t.Fatalf("FinalizeVideoSegment: %v", err)
	}

	v, err := d.GetVideoSegment(id)
	if err != nil {
		t.Fatalf("GetVideoSegment: %v", err)
	}
	if v.ProcessingState != VideoProcessingStateCompleted || v.FrameCount != 150 {
		t.Fatalf("unexpected finalized segment: %+v", v)
	}

	// Now that the first is finalized, a new open segment is allowed.
	if _, err := d.CreateVideoSegment(1, 1920, 1080, 30, "segments/2026/03/07/segment_3"); err != nil {
		t.Fatalf("CreateVideoSegment after finalize: %v", err)
	}
}

func TestDisplaySessionPartialUniqueIndex(t *testing.T) {
	d := openTestDB(t)
	if err := d.UpsertDisplay(1, "Display 1", 1000); err != nil {
		t.Fatalf("UpsertDisplay: %v", err)
	}

	if _, err := d.OpenDisplaySession(1, 1000); err != nil {
		t.Fatalf("OpenDisplaySession: %v", err)
	}
	if _, err := d.OpenDisplaySession(1, 2000); err == nil {
		t.Fatal("expected a second open display_session for the same display to fail")
	}

	if err := d.CloseDisplaySession(1, 3000); err != nil {
		t.Fatalf("CloseDisplaySession: %v", err)
	}
	if _, err := d.OpenDisplaySession(1, 4000); err != nil {
		t.Fatalf("OpenDisplaySession after close: %v", err)
	}
}

func TestFTSIndexAndSearchRoundTrip(t *testing.T) {
	d := openTestDB(t)
	if err := d.UpsertDisplay(1, "Display 1", 1000); err != nil {
		t.Fatalf("UpsertDisplay: %v", err)
	}
	segID, err := d.OpenAppSegment("com.apple.Terminal", sql.NullString{String: "Terminal", Valid: true}, sql.NullString{}, 1000, "app")
	if err != nil {
		t.Fatalf("OpenAppSegment: %v", err)
	}
	frameID, err := d.InsertFrame(Frame{
		CreatedAt: 1000, ImageFilename: "f1.png", SegmentID: segID, DisplayID: 1, IsFocused: true,
	})
	if err != nil {
		t.Fatalf("InsertFrame: %v", err)
	}

	if _, err := d.IndexFrameText(segID, frameID, "quarterly revenue projections", "File Edit View", "budget.xlsx"); err != nil {
		t.Fatalf("IndexFrameText: %v", err)
	}

	hits, err := d.FTSQuery(`"revenue"`, [3]float64{1, 0.5, 2}, 10)
	if err != nil {
		t.Fatalf("FTSQuery: %v", err)
	}
	if len(hits) != 1 || hits[0].FrameID != frameID {
		t.Fatalf("FTSQuery returned %+v, want one hit for frame %d", hits, frameID)
	}

	if err := d.DeleteFrameIndex(frameID); err != nil {
		t.Fatalf("DeleteFrameIndex: %v", err)
	}
	hits, err = d.FTSQuery(`"revenue"`, [3]float64{1, 0.5, 2}, 10)
	if err != nil {
		t.Fatalf("FTSQuery after delete: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("FTSQuery after delete returned %+v, want none", hits)
	}
}
