// Package segment binds a WAL session and a video encoder for one in-progress
// recording: every appended frame is durable in the WAL before the encoder
// ever sees it, so an encoder failure never loses a frame.
//
// Grounded on the teacher's WebRTC Session state machine
// (internal/remote/desktop/session.go) generalized from a live streaming
// session's lifecycle to an on-disk segment's Empty -> Recording ->
// Finalized|Cancelled lifecycle.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/videnc"
	"github.com/framefault/recorder/internal/wal"
)

var log = logging.L("segment")

// State is the segment writer's lifecycle state. Backward transitions are
// disallowed.
type State int

const (
	StateEmpty State = iota
	StateRecording
	StateFinalized
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRecording:
		return "recording"
	case StateFinalized:
		return "finalized"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Frame is the raw frame shape accepted by Append.
type Frame struct {
	Timestamp   time.Time
	Width       int
	Height      int
	BytesPerRow int
	Pix         []byte
	Meta        wal.FrameMetadata
}

// Result is what Finalize returns: enough to build a VideoSegment row.
type Result struct {
	VideoID    int64
	StartTime  time.Time
	EndTime    time.Time
	FrameCount int
	Width      int
	Height     int
	SizeBytes  int64
	Path       string // absolute path to the finalized MP4
	DisplayID  uint32
}

// Writer owns one WAL session and encoder for the duration of one segment.
type Writer struct {
	mu sync.Mutex

	videoID   int64
	walMgr    *wal.Manager
	session   *wal.Session
	encoder   *videnc.Encoder
	outputDir string
	fileName  string

	state     State
	startTime time.Time
	lastFrame time.Time
	displayID uint32
}

// New creates a Writer bound to a videoID. The WAL session is created
// immediately (cheap); the encoder is lazily initialized on the first
// appended frame, once its dimensions are known.
func New(walMgr *wal.Manager, videoID int64, outputDir string) (*Writer, error) {
	session, err := walMgr.CreateSession(videoID)
	if err != nil {
		return nil, fmt.Errorf("segment: create wal session: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0700); err != nil {
		return nil, fmt.Errorf("segment: mkdir output dir: %w", err)
	}

	return &Writer{
		videoID:   videoID,
		walMgr:    walMgr,
		session:   session,
		outputDir: outputDir,
		fileName:  fmt.Sprintf("segment_%d", videoID),
		state:     StateEmpty,
		startTime: time.Now(),
	}, nil
}

// Append writes the frame to the WAL, then lazily initializes the encoder on
// the first frame and encodes. A WAL-write failure is fatal to this frame;
// an encoder failure is logged and swallowed so later frames still reach
// the WAL for recovery.
func (w *Writer) Append(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateFinalized || w.state == StateCancelled {
		return fmt.Errorf("segment: append on %s writer", w.state)
	}

	walFrame := wal.Frame{
		Timestamp:   f.Timestamp,
		Width:       uint32(f.Width),
		Height:      uint32(f.Height),
		BytesPerRow: uint32(f.BytesPerRow),
		Pix:         f.Pix,
		Meta:        f.Meta,
	}
	writeStart := time.Now()
	if err := w.walMgr.AppendFrame(w.session, walFrame); err != nil {
		return fmt.Errorf("segment: wal append (fatal): %w", err)
	}
	if d := time.Since(writeStart); d > 50*time.Millisecond {
		log.Warn("slow wal write", "durationMs", d.Milliseconds(), "videoId", w.videoID)
	}

	if w.state == StateEmpty {
		if err := w.initEncoderLocked(f.Width, f.Height); err != nil {
			log.Error("encoder init failed, continuing WAL-only", "error", err, "videoId", w.videoID)
		}
		w.state = StateRecording
		w.displayID = f.Meta.DisplayID
	}

	if w.encoder != nil {
		if err := w.encoder.Encode(f.Pix, f.Width, f.Height, f.BytesPerRow); err != nil {
			log.Error("encoder append failed, wal already durable", "error", err, "videoId", w.videoID)
		}
	}

	w.lastFrame = f.Timestamp
	return nil
}

func (w *Writer) initEncoderLocked(width, height int) error {
	path := filepath.Join(w.outputDir, w.fileName)
	enc, err := videnc.Initialize(width, height, videnc.Config{}, path, w.startTime)
	if err != nil {
		return err
	}
	w.encoder = enc
	return nil
}

// Finalize finalizes the encoder and the WAL, stats the output file, and
// returns a Result. Valid only from StateRecording.
func (w *Writer) Finalize() (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRecording {
		return Result{}, fmt.Errorf("segment: finalize from state %s", w.state)
	}

	var sizeBytes int64
	path := filepath.Join(w.outputDir, w.fileName)
	if w.encoder != nil {
		if err := w.encoder.Finalize(); err != nil {
			log.Error("encoder finalize failed", "error", err, "videoId", w.videoID)
		}
		if info, err := os.Stat(path); err == nil {
			sizeBytes = info.Size()
		}
	}

	if err := w.walMgr.FinalizeSession(w.session); err != nil {
		log.Error("wal finalize failed", "error", err, "videoId", w.videoID)
	}

	w.state = StateFinalized

	return Result{
		VideoID:    w.videoID,
		StartTime:  w.startTime,
		EndTime:    w.lastFrame,
		FrameCount: w.session.FrameCount(),
		Width:      int(w.session.Width()),
		Height:     int(w.session.Height()),
		SizeBytes:  sizeBytes,
		Path:       path,
		DisplayID:  w.displayID,
	}, nil
}

// Cancel resets the encoder, deletes the output file, and removes the WAL
// session. Valid from any non-terminal state.
func (w *Writer) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateFinalized || w.state == StateCancelled {
		return fmt.Errorf("segment: cancel from terminal state %s", w.state)
	}

	if w.encoder != nil {
		w.encoder.Cancel()
	} else {
		_ = os.Remove(filepath.Join(w.outputDir, w.fileName))
	}
	if err := w.walMgr.FinalizeSession(w.session); err != nil {
		log.Error("wal cleanup failed on cancel", "error", err, "videoId", w.videoID)
	}

	w.state = StateCancelled
	return nil
}

func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
