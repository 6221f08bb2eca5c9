package store

import (
	"database/sql"
	"fmt"
)

// EncodingStatus mirrors the frame's position in the dedup->encode->OCR
// pipeline.
const (
	EncodingStatusPending = 0
	EncodingStatusEncoded = 1
	EncodingStatusOCRDone = 2
)

// Frame is one surviving (post-dedup) captured frame.
type Frame struct {
	ID              int64
	CreatedAt       int64
	ImageFilename   string
	SegmentID       int64
	VideoID         sql.NullInt64
	VideoFrameIndex sql.NullInt64
	IsStarred       bool
	EncodingStatus  int
	ProcessedAt     sql.NullInt64
	DisplayID       int64
	IsFocused       bool
}

// InsertFrame records one surviving frame against its app-focus segment.
// videoID/videoFrameIndex are stored as given; AttachFrameToVideo can set
// them later for a frame inserted without them.
func (d *DB) InsertFrame(f Frame) (int64, error) {
	res, err := d.Exec(
		`INSERT INTO frame (created_at, image_filename, segment_id, video_id, video_frame_index,
		                     is_starred, encoding_status, display_id, is_focused)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.CreatedAt, f.ImageFilename, f.SegmentID, f.VideoID, f.VideoFrameIndex,
		f.IsStarred, f.EncodingStatus, f.DisplayID, f.IsFocused,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert frame: %w", err)
	}
	return res.LastInsertId()
}

// AttachFrameToVideo backfills videoId/videoFrameIndex once the segment
// writer finalizes the clip this frame landed in.
func (d *DB) AttachFrameToVideo(frameID, videoID int64, frameIndex int) error {
	_, err := d.Exec(
		`UPDATE frame SET video_id = ?, video_frame_index = ?, encoding_status = ? WHERE id = ?`,
		videoID, frameIndex, EncodingStatusEncoded, frameID,
	)
	if err != nil {
		return fmt.Errorf("store: attach frame %d to video %d: %w", frameID, videoID, err)
	}
	return nil
}

// MarkFrameOCRDone flips a frame's status once C10 has produced OCR text
// and C8 has written its searchRanking rows.
func (d *DB) MarkFrameOCRDone(frameID int64, processedAt int64) error {
	_, err := d.Exec(`UPDATE frame SET encoding_status = ?, processed_at = ? WHERE id = ?`,
		EncodingStatusOCRDone, processedAt, frameID)
	if err != nil {
		return fmt.Errorf("store: mark frame %d ocr done: %w", frameID, err)
	}
	return nil
}

// PendingOCRFrames returns frame ids still waiting on OCR, oldest first,
// for C10's dispatch queue to drain on startup.
func (d *DB) PendingOCRFrames(limit int) ([]int64, error) {
	rows, err := d.Query(
		`SELECT id FROM frame WHERE encoding_status < ? ORDER BY id ASC LIMIT ?`,
		EncodingStatusOCRDone, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: pending ocr frames: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan pending ocr frame: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetFrame fetches one frame row by id.
func (d *DB) GetFrame(id int64) (*Frame, error) {
	row := d.QueryRow(
		`SELECT id, created_at, image_filename, segment_id, video_id, video_frame_index,
		        is_starred, encoding_status, processed_at, display_id, is_focused
		 FROM frame WHERE id = ?`,
		id,
	)
	var f Frame
	err := row.Scan(&f.ID, &f.CreatedAt, &f.ImageFilename, &f.SegmentID, &f.VideoID, &f.VideoFrameIndex,
		&f.IsStarred, &f.EncodingStatus, &f.ProcessedAt, &f.DisplayID, &f.IsFocused)
	if err != nil {
		return nil, fmt.Errorf("store: get frame %d: %w", id, err)
	}
	return &f, nil
}

// CountFramesForVideo matches the VideoSegment invariant that a completed
// segment's frameCount equals the rows in frame referencing it.
func (d *DB) CountFramesForVideo(videoID int64) (int, error) {
	row := d.QueryRow(`SELECT COUNT(*) FROM frame WHERE video_id = ?`, videoID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count frames for video %d: %w", videoID, err)
	}
	return n, nil
}
