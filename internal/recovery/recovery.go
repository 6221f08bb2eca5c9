// Package recovery reconciles on-disk WAL state left behind by an
// unclean shutdown before normal capture resumes.
//
// Grounded on the teacher's startup-reconciliation idiom in
// cmd/breeze-agent/main.go (runAgent orders config/credential load before
// component start), generalized to "reconcile on-disk WAL state before
// starting normal capture."
package recovery

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/framefault/recorder/internal/layout"
	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/segment"
	"github.com/framefault/recorder/internal/store"
	"github.com/framefault/recorder/internal/wal"
)

var log = logging.L("recovery")

// OCREnqueuer is the injected callback used to hand newly recovered frame
// ids to C10's dispatch queue.
type OCREnqueuer func(frameID int64)

// Manager rebuilds any segments left mid-flight in the WAL at startup.
type Manager struct {
	walMgr    *wal.Manager
	db        *store.DB
	layout    *layout.Manager
	maxFrames int
	enqueue   OCREnqueuer

	watcher *fsnotify.Watcher
}

func New(walMgr *wal.Manager, db *store.DB, lay *layout.Manager, maxFrames int, enqueue OCREnqueuer) *Manager {
	return &Manager{walMgr: walMgr, db: db, layout: lay, maxFrames: maxFrames, enqueue: enqueue}
}

// WatchWALRoot starts an optional background watch over the WAL root,
// logging a warning whenever an active_segment_* directory disappears out
// from under the WAL manager (e.g. an operator or external tool deleting it
// by hand) so that loss is visible instead of silently surfacing as a
// missing session on the next recovery run. Purely diagnostic: it never
// touches the filesystem itself. Stop watching with the returned func.
func (m *Manager) WatchWALRoot(root string) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("recovery: create wal watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("recovery: watch wal root %s: %w", root, err)
	}
	m.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					log.Warn("wal session directory disappeared externally", "path", event.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("wal watcher error", "error", err)
			}
		}
	}()

	return func() { w.Close() }, nil
}

// Run executes the full recovery algorithm: list sessions, read frames,
// group by resolution, chunk, re-encode, insert rows, enqueue OCR, and
// finalize every WAL session that was part of this run. Idempotent: a
// repeated invocation over the same on-disk WAL inserts no duplicate frame
// rows, since a frame is skipped when the database already has a frame in
// the same second.
func (m *Manager) Run() error {
	sessions, err := m.walMgr.ListActiveSessions()
	if err != nil {
		return fmt.Errorf("recovery: list active sessions: %w", err)
	}
	if len(sessions) == 0 {
		if _, err := m.db.RecordMetric(store.MetricRecoveryRan, time.Now().UnixMilli(), `{"sessionsRecovered":0}`); err != nil {
			log.Error("record recovery_ran metric failed", "error", err)
		}
		return nil
	}
	log.Info("recovering wal sessions", "count", len(sessions))

	groups := make(map[string][]recoveredFrame)
	var toFinalize []*wal.Session

	for _, s := range sessions {
		frames, err := m.walMgr.ReadFrames(s)
		if err != nil {
			log.Error("read wal session failed, skipping", "videoId", s.VideoID(), "error", err)
			continue
		}
		if len(frames) == 0 {
			log.Info("dropping empty wal session", "videoId", s.VideoID())
			if err := m.walMgr.FinalizeSession(s); err != nil {
				log.Error("finalize empty session failed", "videoId", s.VideoID(), "error", err)
			}
			continue
		}

		key := fmt.Sprintf("%dx%d", s.Width(), s.Height())
		for _, f := range frames {
			groups[key] = append(groups[key], recoveredFrame{Frame: f, displayID: f.Meta.DisplayID})
		}
		toFinalize = append(toFinalize, s)
	}

	for resolution, frames := range groups {
		sort.Slice(frames, func(i, j int) bool { return frames[i].Timestamp.Before(frames[j].Timestamp) })

		for _, chunk := range chunkFrames(frames, m.maxFrames) {
			if err := m.recoverChunk(resolution, chunk); err != nil {
				log.Error("recover chunk failed", "resolution", resolution, "error", err)
			}
		}
	}

	for _, s := range toFinalize {
		if err := m.walMgr.FinalizeSession(s); err != nil {
			log.Error("finalize recovered session failed", "videoId", s.VideoID(), "error", err)
		}
	}

	if _, err := m.db.RecordMetric(store.MetricRecoveryRan, time.Now().UnixMilli(),
		fmt.Sprintf(`{"sessionsRecovered":%d}`, len(toFinalize))); err != nil {
		log.Error("record recovery_ran metric failed", "error", err)
	}
	return nil
}

type recoveredFrame struct {
	wal.Frame
	displayID uint32
}

func chunkFrames(frames []recoveredFrame, maxFrames int) [][]recoveredFrame {
	if maxFrames <= 0 {
		maxFrames = 150
	}
	var chunks [][]recoveredFrame
	for len(frames) > 0 {
		n := maxFrames
		if n > len(frames) {
			n = len(frames)
		}
		chunks = append(chunks, frames[:n])
		frames = frames[n:]
	}
	return chunks
}

func (m *Manager) recoverChunk(resolution string, chunk []recoveredFrame) error {
	if len(chunk) == 0 {
		return nil
	}
	displayID := int64(chunk[0].displayID)
	startTime := chunk[0].Timestamp
	videoIDPlaceholder := startTime.UnixNano() // names the output file before the DB row (and its real id) exists

	outDir := m.layout.SegmentDir(startTime)
	writer, err := segment.New(m.walMgr, videoIDPlaceholder, outDir)
	if err != nil {
		return fmt.Errorf("recovery: new segment writer for %s: %w", resolution, err)
	}

	var encodedCount int
	for _, f := range chunk {
		if err := writer.Append(segment.Frame{
			Timestamp: f.Timestamp, Width: int(f.Width), Height: int(f.Height),
			BytesPerRow: int(f.BytesPerRow), Pix: f.Pix, Meta: f.Meta,
		}); err != nil {
			log.Error("append during recovery failed, stopping chunk early", "error", err, "framesSoFar", encodedCount)
			break
		}
		encodedCount++
	}
	if encodedCount == 0 {
		writer.Cancel()
		return fmt.Errorf("recovery: no frames survived encoding for %s", resolution)
	}

	result, err := writer.Finalize()
	if err != nil {
		return fmt.Errorf("recovery: finalize segment: %w", err)
	}

	relPath, err := m.layout.Relative(result.Path)
	if err != nil {
		return fmt.Errorf("recovery: relative path: %w", err)
	}

	videoID, err := m.db.CreateVideoSegment(displayID, result.Width, result.Height, 30, relPath)
	if err != nil {
		return fmt.Errorf("recovery: create video segment: %w", err)
	}
	if err := m.db.FinalizeVideoSegment(videoID, result.SizeBytes, encodedCount); err != nil {
		return fmt.Errorf("recovery: finalize video segment: %w", err)
	}
	if err := m.db.SetVideoSegmentUploadXID(videoID, uuid.NewString()); err != nil {
		log.Error("set upload xid failed", "videoId", videoID, "error", err)
	}
	if _, err := m.db.RecordMetric(store.MetricSegmentFinalized, time.Now().UnixMilli(),
		fmt.Sprintf(`{"videoId":%d,"frameCount":%d,"recovered":true}`, videoID, encodedCount)); err != nil {
		log.Error("record segment_finalized metric failed", "videoId", videoID, "error", err)
	}

	return m.insertFrameRows(chunk[:encodedCount], videoID, displayID)
}

func (m *Manager) insertFrameRows(chunk []recoveredFrame, videoID, displayID int64) error {
	var lastSegID int64
	var lastBundleID, lastWindowName string

	for i, f := range chunk {
		tsSeconds := f.Timestamp.Unix()
		if m.frameAlreadyRecorded(tsSeconds) {
			continue
		}

		bundleID := f.Meta.AppBundleID
		windowName := f.Meta.WindowName
		if i == 0 || bundleID != lastBundleID || windowName != lastWindowName {
			segID, err := m.openOrReuseAppSegment(bundleID, windowName, f.Meta.BrowserURL, f.Timestamp)
			if err != nil {
				return fmt.Errorf("recovery: open app segment: %w", err)
			}
			lastSegID, lastBundleID, lastWindowName = segID, bundleID, windowName
		}

		frameID, err := m.db.InsertFrame(store.Frame{
			CreatedAt:       f.Timestamp.UnixMilli(),
			ImageFilename:   fmt.Sprintf("frame_%d", i),
			SegmentID:       lastSegID,
			VideoID:         sql.NullInt64{Int64: videoID, Valid: true},
			VideoFrameIndex: sql.NullInt64{Int64: int64(i), Valid: true},
			EncodingStatus:  store.EncodingStatusEncoded,
			DisplayID:       displayID,
			IsFocused:       f.Meta.IsFocused,
		})
		if err != nil {
			return fmt.Errorf("recovery: insert frame %d: %w", i, err)
		}

		if err := m.db.ExtendAppSegment(lastSegID, f.Timestamp.UnixMilli()); err != nil {
			log.Error("extend app segment failed during recovery", "segmentId", lastSegID, "error", err)
		}

		m.enqueue(frameID)
	}
	return nil
}

func (m *Manager) frameAlreadyRecorded(tsSeconds int64) bool {
	row := m.db.QueryRow(
		`SELECT 1 FROM frame WHERE created_at / 1000 = ? LIMIT 1`,
		tsSeconds,
	)
	var one int
	return row.Scan(&one) == nil
}

func (m *Manager) openOrReuseAppSegment(bundleID, windowName, browserURL string, at time.Time) (int64, error) {
	last, err := m.db.LastAppSegment()
	if err != nil {
		return 0, err
	}
	if last != nil && last.BundleID == bundleID && last.WindowName.String == windowName {
		return last.ID, nil
	}
	return m.db.OpenAppSegment(bundleID, nullableString(windowName), nullableString(browserURL), at.UnixMilli(), "app")
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
