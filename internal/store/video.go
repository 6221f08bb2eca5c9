package store

import (
	"database/sql"
	"fmt"
)

// VideoSegment is a persisted encoded clip.
type VideoSegment struct {
	ID              int64
	Width           int
	Height          int
	Path            string // relative to the storage root
	FileSize        int64
	FrameRate       int
	UploadXID       sql.NullString
	ProcessingState int // 0 = completed, 1 = in progress
	FrameCount      int
	DisplayID       int64
}

const (
	VideoProcessingStateInProgress = 1
	VideoProcessingStateCompleted  = 0
)

// CreateVideoSegment inserts a new open (processing_state=1) video row.
// Fails on the partial unique index if one is already open for this
// (displayId, width, height).
func (d *DB) CreateVideoSegment(displayID int64, width, height, frameRate int, path string) (int64, error) {
	res, err := d.Exec(
		`INSERT INTO video_segment (width, height, path, frame_rate, processing_state, frame_count, display_id)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		width, height, path, frameRate, VideoProcessingStateInProgress, displayID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create video segment: %w", err)
	}
	return res.LastInsertId()
}

// SetVideoSegmentPath backfills the relative output path once it can be
// derived from the row's own id (the date-bucketed segment directory names
// its file after the video id, which does not exist until the insert
// completes).
func (d *DB) SetVideoSegmentPath(id int64, path string) error {
	_, err := d.Exec(`UPDATE video_segment SET path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("store: set video segment %d path: %w", id, err)
	}
	return nil
}

// SetVideoSegmentUploadXID assigns a stable opaque external identifier to a
// finalized segment. Nothing in this system ships the segment anywhere yet,
// but the column exists for a future sync surface and every completed
// segment gets one so that surface never has to backfill history.
func (d *DB) SetVideoSegmentUploadXID(id int64, xid string) error {
	_, err := d.Exec(`UPDATE video_segment SET upload_xid = ? WHERE id = ?`, xid, id)
	if err != nil {
		return fmt.Errorf("store: set video segment %d upload xid: %w", id, err)
	}
	return nil
}

// FinalizeVideoSegment marks a video row completed with its final size and
// frame count.
func (d *DB) FinalizeVideoSegment(id int64, fileSize int64, frameCount int) error {
	_, err := d.Exec(
		`UPDATE video_segment SET processing_state = ?, file_size = ?, frame_count = ? WHERE id = ?`,
		VideoProcessingStateCompleted, fileSize, frameCount, id,
	)
	if err != nil {
		return fmt.Errorf("store: finalize video segment %d: %w", id, err)
	}
	return nil
}

// OpenVideoSegment returns the currently open video segment for a display
// and resolution, if any.
func (d *DB) OpenVideoSegment(displayID int64, width, height int) (*VideoSegment, error) {
	row := d.QueryRow(
		`SELECT id, width, height, path, file_size, frame_rate, upload_xid, processing_state, frame_count, display_id
		 FROM video_segment WHERE display_id = ? AND width = ? AND height = ? AND processing_state = ?`,
		displayID, width, height, VideoProcessingStateInProgress,
	)
	v, err := scanVideoSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open video segment: %w", err)
	}
	return v, nil
}

// GetVideoSegment fetches one video row by id.
func (d *DB) GetVideoSegment(id int64) (*VideoSegment, error) {
	row := d.QueryRow(
		`SELECT id, width, height, path, file_size, frame_rate, upload_xid, processing_state, frame_count, display_id
		 FROM video_segment WHERE id = ?`,
		id,
	)
	v, err := scanVideoSegment(row)
	if err != nil {
		return nil, fmt.Errorf("store: get video segment %d: %w", id, err)
	}
	return v, nil
}

func scanVideoSegment(row *sql.Row) (*VideoSegment, error) {
	var v VideoSegment
	if err := row.Scan(&v.ID, &v.Width, &v.Height, &v.Path, &v.FileSize, &v.FrameRate,
		&v.UploadXID, &v.ProcessingState, &v.FrameCount, &v.DisplayID); err != nil {
		return nil, err
	}
	return &v, nil
}
