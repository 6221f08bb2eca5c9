package store

import "fmt"

// Node is one OCR-detected text bounding box within a frame.
type Node struct {
	ID          int64
	FrameID     int64
	NodeOrder   int
	TextOffset  int
	TextLength  int
	Left        float64
	Top         float64
	Width       float64
	Height      float64
	WindowIndex int
}

// InsertNodes bulk-inserts the OCR bounding boxes for one frame, used by
// C10's result handler after OCR completes.
func (d *DB) InsertNodes(nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("store: insert nodes: begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO node (frame_id, node_order, text_offset, text_length, left_x, top_y, width, height, window_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: insert nodes: prepare: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.Exec(n.FrameID, n.NodeOrder, n.TextOffset, n.TextLength, n.Left, n.Top, n.Width, n.Height, n.WindowIndex); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert node for frame %d: %w", n.FrameID, err)
		}
	}
	return tx.Commit()
}

// NodesForFrame returns a frame's OCR bounding boxes in reading order.
func (d *DB) NodesForFrame(frameID int64) ([]Node, error) {
	rows, err := d.Query(
		`SELECT id, frame_id, node_order, text_offset, text_length, left_x, top_y, width, height, window_index
		 FROM node WHERE frame_id = ? ORDER BY node_order ASC`,
		frameID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: nodes for frame %d: %w", frameID, err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.FrameID, &n.NodeOrder, &n.TextOffset, &n.TextLength,
			&n.Left, &n.Top, &n.Width, &n.Height, &n.WindowIndex); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
