package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// IndexFrameText writes one frame's OCR output into the FTS5 index. c0 is
// the main OCR body text, c1 is detected UI-chrome text, c2 is the window
// title. The searchRanking virtual table is kept in sync by triggers on
// searchRanking_content, so callers never touch it directly. Returns the
// docid (shared rowid between searchRanking_content and searchRanking).
func (d *DB) IndexFrameText(segmentID, frameID int64, c0, c1, c2 string) (int64, error) {
	res, err := d.Exec(`INSERT INTO searchRanking_content (c0, c1, c2) VALUES (?, ?, ?)`, c0, c1, c2)
	if err != nil {
		return 0, fmt.Errorf("store: index frame text: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: index frame text: last insert id: %w", err)
	}

	if _, err := d.Exec(`INSERT INTO doc_segment (docid, segment_id, frame_id) VALUES (?, ?, ?)`,
		docID, segmentID, frameID); err != nil {
		return 0, fmt.Errorf("store: link doc_segment for frame %d: %w", frameID, err)
	}
	return docID, nil
}

// DeleteFrameIndex removes a frame's FTS row and junction row. Called
// before deleting the frame itself, since searchRanking_content carries no
// foreign key back to frame for the cascade to follow.
func (d *DB) DeleteFrameIndex(frameID int64) error {
	row := d.QueryRow(`SELECT docid FROM doc_segment WHERE frame_id = ?`, frameID)
	var docID int64
	if err := row.Scan(&docID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("store: delete frame index %d: lookup docid: %w", frameID, err)
	}

	if _, err := d.Exec(`DELETE FROM searchRanking_content WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("store: delete frame index %d: content: %w", frameID, err)
	}
	if _, err := d.Exec(`DELETE FROM doc_segment WHERE docid = ?`, docID); err != nil {
		return fmt.Errorf("store: delete frame index %d: junction: %w", frameID, err)
	}
	return nil
}

// FTSCount returns the total number of matches for a query, ignoring limit,
// for the caller to build pagination metadata.
func (d *DB) FTSCount(matchExpr string) (int, error) {
	row := d.QueryRow(`SELECT COUNT(*) FROM searchRanking WHERE searchRanking MATCH ?`, matchExpr)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: fts count: %w", err)
	}
	return n, nil
}

// SearchHit is one ranked FTS5 match joined back to its owning segment and
// frame, as consumed by internal/search.
type SearchHit struct {
	DocID     int64
	SegmentID int64
	FrameID   int64
	BM25      float64
	Snippet   string
}

// FTSQuery runs a raw FTS5 MATCH expression (already built by
// internal/search's grammar) and returns hits ordered by SQLite's bm25()
// ranking, most relevant first. weights scale the c0/c1/c2 column
// contributions to bm25, matching the caller's configured field weights.
func (d *DB) FTSQuery(matchExpr string, weights [3]float64, limit int) ([]SearchHit, error) {
	rows, err := d.Query(
		`SELECT sr.rowid, ds.segment_id, ds.frame_id,
		        bm25(searchRanking, ?, ?, ?) AS rank,
		        snippet(searchRanking, 0, '[', ']', '...', 8)
		 FROM searchRanking sr
		 JOIN doc_segment ds ON ds.docid = sr.rowid
		 WHERE searchRanking MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		weights[0], weights[1], weights[2], matchExpr, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: fts query: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.DocID, &h.SegmentID, &h.FrameID, &h.BM25, &h.Snippet); err != nil {
			return nil, fmt.Errorf("store: scan fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
