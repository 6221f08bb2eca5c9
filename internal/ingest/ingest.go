// Package ingest is the live counterpart to internal/recovery: it consumes
// the capture manager's deduplicated frame stream, groups frames by
// display/resolution into rotating segment.Writers, and records each
// surviving frame against its app-focus segment before enqueuing it for
// OCR.
//
// Grounded on the teacher's heartbeat run loop (cmd/breeze-agent's
// runAgent goroutine draining a single channel for the agent's lifetime),
// generalized from heartbeat/command delivery to a continuous frame sink.
package ingest

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/framefault/recorder/internal/capture"
	"github.com/framefault/recorder/internal/layout"
	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/segment"
	"github.com/framefault/recorder/internal/store"
	"github.com/framefault/recorder/internal/wal"
)

var log = logging.L("ingest")

// OCREnqueuer hands a newly recorded frame id to C10's dispatch queue.
type OCREnqueuer func(frameID int64)

// Ingestor owns one open segment.Writer per (displayId, width, height) and
// the app-focus segment bookkeeping needed to attribute frames correctly.
type Ingestor struct {
	walMgr    *wal.Manager
	db        *store.DB
	layout    *layout.Manager
	maxFrames int
	enqueue   OCREnqueuer

	open map[string]*openSegment
}

type openSegment struct {
	writer    *segment.Writer
	videoID   int64
	displayID uint32
	startTime time.Time
	count     int

	appSegID       int64
	lastBundleID   string
	lastWindowName string
}

func New(walMgr *wal.Manager, db *store.DB, lay *layout.Manager, maxFrames int, enqueue OCREnqueuer) *Ingestor {
	if maxFrames <= 0 {
		maxFrames = 150
	}
	return &Ingestor{
		walMgr: walMgr, db: db, layout: lay, maxFrames: maxFrames, enqueue: enqueue,
		open: make(map[string]*openSegment),
	}
}

// Run drains frames until the channel closes (capture stopped), rotating
// and finalizing every open segment on the way out.
func (in *Ingestor) Run(frames <-chan capture.Frame) {
	for f := range frames {
		if err := in.handle(f); err != nil {
			log.Error("ingest frame failed", "error", err)
		}
	}
	in.finalizeAll()
}

func resolutionKey(displayID uint32, width, height int) string {
	return fmt.Sprintf("%d:%dx%d", displayID, width, height)
}

func (in *Ingestor) handle(f capture.Frame) error {
	key := resolutionKey(f.DisplayID, f.Width, f.Height)
	seg, ok := in.open[key]
	if !ok {
		var err error
		seg, err = in.openSegment(f)
		if err != nil {
			return fmt.Errorf("ingest: open segment: %w", err)
		}
		in.open[key] = seg
	}

	if err := seg.writer.Append(segment.Frame{
		Timestamp: f.CapturedAt, Width: f.Width, Height: f.Height,
		BytesPerRow: f.BytesPerRow, Pix: f.Pix,
		Meta: wal.FrameMetadata{
			AppBundleID: f.Meta.AppBundleID, AppName: f.Meta.AppName,
			WindowName: f.Meta.WindowName, BrowserURL: f.Meta.BrowserURL,
			DisplayID: f.Meta.DisplayID, IsFocused: f.Meta.IsFocused,
		},
	}); err != nil {
		return fmt.Errorf("ingest: append: %w", err)
	}

	if seg.lastBundleID != f.Meta.AppBundleID || seg.lastWindowName != f.Meta.WindowName || seg.appSegID == 0 {
		segID, err := in.openOrReuseAppSegment(f.Meta.AppBundleID, f.Meta.WindowName, f.Meta.BrowserURL, f.CapturedAt)
		if err != nil {
			return fmt.Errorf("ingest: app segment: %w", err)
		}
		seg.appSegID, seg.lastBundleID, seg.lastWindowName = segID, f.Meta.AppBundleID, f.Meta.WindowName
	}

	frameIndex := seg.count
	frameID, err := in.db.InsertFrame(store.Frame{
		CreatedAt:       f.CapturedAt.UnixMilli(),
		ImageFilename:   fmt.Sprintf("frame_%d_%d", seg.videoID, frameIndex),
		SegmentID:       seg.appSegID,
		VideoID:         sql.NullInt64{Int64: seg.videoID, Valid: true},
		VideoFrameIndex: sql.NullInt64{Int64: int64(frameIndex), Valid: true},
		EncodingStatus:  store.EncodingStatusEncoded,
		DisplayID:       int64(f.DisplayID),
		IsFocused:       f.Meta.IsFocused,
	})
	if err != nil {
		return fmt.Errorf("ingest: insert frame: %w", err)
	}
	seg.count++

	if err := in.db.ExtendAppSegment(seg.appSegID, f.CapturedAt.UnixMilli()); err != nil {
		log.Error("extend app segment failed", "segmentId", seg.appSegID, "error", err)
	}
	in.enqueue(frameID)

	if seg.count >= in.maxFrames {
		if err := in.rotate(key, seg); err != nil {
			log.Error("segment rotation failed", "error", err)
		}
	}
	return nil
}

func (in *Ingestor) openSegment(f capture.Frame) (*openSegment, error) {
	videoID, err := in.db.CreateVideoSegment(int64(f.DisplayID), f.Width, f.Height, 30, "")
	if err != nil {
		return nil, fmt.Errorf("create video segment row: %w", err)
	}

	startTime := f.CapturedAt
	outDir := in.layout.SegmentDir(startTime)
	writer, err := segment.New(in.walMgr, videoID, outDir)
	if err != nil {
		return nil, fmt.Errorf("new segment writer: %w", err)
	}

	relPath, err := in.layout.Relative(in.layout.SegmentPath(startTime, videoID))
	if err != nil {
		return nil, fmt.Errorf("relative path: %w", err)
	}
	if err := in.db.SetVideoSegmentPath(videoID, relPath); err != nil {
		return nil, fmt.Errorf("set video segment path: %w", err)
	}

	return &openSegment{writer: writer, videoID: videoID, displayID: f.DisplayID, startTime: startTime}, nil
}

func (in *Ingestor) rotate(key string, seg *openSegment) error {
	delete(in.open, key)
	result, err := seg.writer.Finalize()
	if err != nil {
		return fmt.Errorf("finalize segment %d: %w", seg.videoID, err)
	}
	if err := in.db.FinalizeVideoSegment(seg.videoID, result.SizeBytes, seg.count); err != nil {
		return err
	}
	if err := in.db.SetVideoSegmentUploadXID(seg.videoID, uuid.NewString()); err != nil {
		log.Error("set upload xid failed", "videoId", seg.videoID, "error", err)
	}
	if _, err := in.db.RecordMetric(store.MetricSegmentFinalized, time.Now().UnixMilli(),
		fmt.Sprintf(`{"videoId":%d,"frameCount":%d}`, seg.videoID, seg.count)); err != nil {
		log.Error("record segment_finalized metric failed", "videoId", seg.videoID, "error", err)
	}
	return nil
}

func (in *Ingestor) finalizeAll() {
	for key, seg := range in.open {
		if err := in.rotate(key, seg); err != nil {
			log.Error("final rotation failed", "error", err)
		}
	}
}

func (in *Ingestor) openOrReuseAppSegment(bundleID, windowName, browserURL string, at time.Time) (int64, error) {
	last, err := in.db.LastAppSegment()
	if err != nil {
		return 0, err
	}
	if last != nil && last.BundleID == bundleID && last.WindowName.String == windowName {
		return last.ID, nil
	}
	return in.db.OpenAppSegment(bundleID, nullableString(windowName), nullableString(browserURL), at.UnixMilli(), "app")
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
