// Package wal implements the crash-safe binary write-ahead log that backs
// every in-progress segment: frames are appended to frames.bin before the
// encoder ever sees them, so a crash mid-segment loses at most the last
// partial record.
//
// Grounded on the teacher's append-then-rewrite-metadata idiom in
// internal/remote/desktop/session_capture.go (write first, observe state
// after) generalized from an in-memory WebRTC session to an on-disk log, and
// on its atomic-JSON-rewrite pattern used elsewhere in the agent for state
// files that must never be read half-written.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/framefault/recorder/internal/health"
	"github.com/framefault/recorder/internal/logging"
)

var log = logging.L("wal")

const sessionDirPrefix = "active_segment_"

// headerSize covers timestamp + 5 u32 fields + 4 u16 string lengths:
// 8 + 5*4 + 4*2 = 36 bytes.
const headerSize = 36

// FrameMetadata is carried alongside each raw frame through the WAL into
// recovery. IsFocused has no field in the binary record, so frames read
// back by ReadFrames always have it false.
type FrameMetadata struct {
	AppBundleID string
	AppName     string
	WindowName  string
	BrowserURL  string
	DisplayID   uint32
	IsFocused   bool
}

// Frame is a single captured frame as written to frames.bin.
type Frame struct {
	Timestamp   time.Time
	Width       uint32
	Height      uint32
	BytesPerRow uint32
	Pix         []byte
	Meta        FrameMetadata
}

// sessionMeta mirrors metadata.json.
type sessionMeta struct {
	VideoID    int64     `json:"videoId"`
	StartTime  time.Time `json:"startTime"`
	FrameCount int       `json:"frameCount"`
	Width      uint32    `json:"width"`
	Height     uint32    `json:"height"`
}

// Session is a handle to one active_segment_{videoId} directory.
type Session struct {
	root string
	meta sessionMeta
}

// Manager creates and enumerates WAL sessions under a root directory shared
// only with the recovery manager.
type Manager struct {
	root           string
	healthReporter func(health.StorageHealthSignal)
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// SetHealthReporter wires every subsequent AppendFrame's measured latency
// into the health monitor. Optional: nil (the default) disables reporting.
func (m *Manager) SetHealthReporter(fn func(health.StorageHealthSignal)) {
	m.healthReporter = fn
}

func sessionDirName(videoID int64) string {
	return fmt.Sprintf("%s%d", sessionDirPrefix, videoID)
}

// CreateSession creates the session directory, touches an empty frames.bin,
// and writes metadata.json with frameCount=0.
func (m *Manager) CreateSession(videoID int64) (*Session, error) {
	dir := filepath.Join(m.root, sessionDirName(videoID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("wal: create session dir: %w", err)
	}

	framesPath := filepath.Join(dir, "frames.bin")
	f, err := os.OpenFile(framesPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: touch frames.bin: %w", err)
	}
	f.Close()

	s := &Session{
		root: dir,
		meta: sessionMeta{VideoID: videoID, StartTime: time.Now()},
	}
	if err := s.writeMetadata(); err != nil {
		return nil, err
	}

	log.Info("wal session created", "videoId", videoID)
	return s, nil
}

// AppendFrame opens frames.bin for append, writes the header + metadata
// strings + pixel bytes, then atomically rewrites metadata.json with the
// incremented frame count. Measures the whole call and, if a health
// reporter is wired, surfaces the latency as a storage-health signal.
func (m *Manager) AppendFrame(s *Session, frame Frame) (err error) {
	start := time.Now()
	defer func() {
		if m.healthReporter != nil {
			m.healthReporter(health.StorageHealthSignal{
				ComponentName: "wal",
				LatencyMs:     float64(time.Since(start).Microseconds()) / 1000,
				At:            start,
			})
		}
	}()

	path := filepath.Join(s.root, "frames.bin")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("wal: open frames.bin for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek to end: %w", err)
	}

	record := encodeRecord(frame)
	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("wal: write record: %w", err)
	}

	if s.meta.FrameCount == 0 {
		s.meta.Width = frame.Width
		s.meta.Height = frame.Height
	}
	s.meta.FrameCount++

	return s.writeMetadata()
}

// writeMetadata rewrites metadata.json atomically: write to a temp file in
// the same directory, then rename over the target. Rename is atomic on the
// same filesystem, so readers never observe a half-written file.
func (s *Session) writeMetadata() error {
	data, err := json.Marshal(s.meta)
	if err != nil {
		return fmt.Errorf("wal: marshal metadata: %w", err)
	}

	tmp := filepath.Join(s.root, "metadata.json.tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("wal: write temp metadata: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.root, "metadata.json"))
}

// FinalizeSession recursively removes the session directory. Call only
// after the encoder has produced a finalized, playable file and the
// database rows have been committed.
func (m *Manager) FinalizeSession(s *Session) error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("wal: remove session dir: %w", err)
	}
	log.Info("wal session finalized", "videoId", s.meta.VideoID)
	return nil
}

// ListActiveSessions enumerates the root for active_segment_* directories
// and loads each one's metadata.
func (m *Manager) ListActiveSessions() ([]*Session, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read root: %w", err)
	}

	var sessions []*Session
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sessionDirPrefix) {
			continue
		}
		idStr := strings.TrimPrefix(e.Name(), sessionDirPrefix)
		videoID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			log.Warn("skipping malformed session directory", "name", e.Name())
			continue
		}

		dir := filepath.Join(m.root, e.Name())
		meta, err := loadMetadata(dir)
		if err != nil {
			log.Warn("skipping session with unreadable metadata", "name", e.Name(), "error", err)
			continue
		}
		meta.VideoID = videoID
		sessions = append(sessions, &Session{root: dir, meta: meta})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].meta.VideoID < sessions[j].meta.VideoID
	})
	return sessions, nil
}

func loadMetadata(dir string) (sessionMeta, error) {
	var meta sessionMeta
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// VideoID, Width, Height, FrameCount, StartTime expose the session's
// metadata to callers (recovery, segment writer) without leaking the
// on-disk layout.
func (s *Session) VideoID() int64        { return s.meta.VideoID }
func (s *Session) Width() uint32         { return s.meta.Width }
func (s *Session) Height() uint32        { return s.meta.Height }
func (s *Session) FrameCount() int       { return s.meta.FrameCount }
func (s *Session) StartTime() time.Time  { return s.meta.StartTime }
func (s *Session) FramesPath() string    { return filepath.Join(s.root, "frames.bin") }

// encodeRecord serializes one frame as [header | 4 metadata strings | pixels].
func encodeRecord(f Frame) []byte {
	bundleID := []byte(f.Meta.AppBundleID)
	appName := []byte(f.Meta.AppName)
	windowName := []byte(f.Meta.WindowName)
	browserURL := []byte(f.Meta.BrowserURL)

	total := headerSize + len(bundleID) + len(appName) + len(windowName) + len(browserURL) + len(f.Pix)
	buf := make([]byte, total)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(float64(f.Timestamp.UnixNano())/1e9))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.Width)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], f.Height)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], f.BytesPerRow)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Pix)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], f.Meta.DisplayID)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(bundleID)))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(appName)))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(windowName)))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(browserURL)))
	off += 2

	off += copy(buf[off:], bundleID)
	off += copy(buf[off:], appName)
	off += copy(buf[off:], windowName)
	off += copy(buf[off:], browserURL)
	copy(buf[off:], f.Pix)

	return buf
}
