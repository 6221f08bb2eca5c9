package store

import (
	"database/sql"
	"fmt"
)

// Display is a persistent record of one physical display, identified by
// the capture backend's stable display id.
type Display struct {
	ID         int64
	Name       string
	LastSeenAt int64
}

// UpsertDisplay records a display's presence, creating it on first sight.
func (d *DB) UpsertDisplay(id int64, name string, seenAt int64) error {
	_, err := d.Exec(
		`INSERT INTO display (id, name, last_seen_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, last_seen_at = excluded.last_seen_at`,
		id, name, seenAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert display %d: %w", id, err)
	}
	return nil
}

// OpenDisplaySession opens a new display_session row. Fails on the partial
// unique index if one is already open for this display.
func (d *DB) OpenDisplaySession(displayID int64, connectedAt int64) (int64, error) {
	res, err := d.Exec(`INSERT INTO display_session (display_id, connected_at) VALUES (?, ?)`, displayID, connectedAt)
	if err != nil {
		return 0, fmt.Errorf("store: open display session for display %d: %w", displayID, err)
	}
	return res.LastInsertId()
}

// CloseDisplaySession closes the currently open session for a display, if
// any.
func (d *DB) CloseDisplaySession(displayID int64, disconnectedAt int64) error {
	_, err := d.Exec(
		`UPDATE display_session SET disconnected_at = ? WHERE display_id = ? AND disconnected_at IS NULL`,
		disconnectedAt, displayID,
	)
	if err != nil {
		return fmt.Errorf("store: close display session for display %d: %w", displayID, err)
	}
	return nil
}

// OpenDisplaySessionID returns the id of the currently open session for a
// display, or 0 when none is open.
func (d *DB) OpenDisplaySessionID(displayID int64) (int64, error) {
	row := d.QueryRow(`SELECT id FROM display_session WHERE display_id = ? AND disconnected_at IS NULL`, displayID)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: open display session id for display %d: %w", displayID, err)
	}
	return id, nil
}
