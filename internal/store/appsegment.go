package store

import (
	"database/sql"
	"fmt"
)

// AppSegment is a contiguous run of frames sharing one (bundleID,
// windowName) focus context. Named AppSegment in Go to avoid colliding
// with the encoded-clip VideoSegment type; it maps to the "segment" table.
type AppSegment struct {
	ID         int64
	BundleID   string
	StartDate  int64 // unix millis
	EndDate    int64
	WindowName sql.NullString
	BrowserURL sql.NullString
	Type       string
}

// OpenAppSegment creates a new app-focus segment starting at startDate.
func (d *DB) OpenAppSegment(bundleID string, windowName, browserURL sql.NullString, startDate int64, typ string) (int64, error) {
	res, err := d.Exec(
		`INSERT INTO segment (bundle_id, start_date, end_date, window_name, browser_url, type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bundleID, startDate, startDate, windowName, browserURL, typ,
	)
	if err != nil {
		return 0, fmt.Errorf("store: open app segment: %w", err)
	}
	return res.LastInsertId()
}

// ExtendAppSegment monotonically extends endDate while the (bundleID,
// windowName) context persists.
func (d *DB) ExtendAppSegment(id int64, endDate int64) error {
	_, err := d.Exec(`UPDATE segment SET end_date = ? WHERE id = ? AND end_date < ?`, endDate, id, endDate)
	if err != nil {
		return fmt.Errorf("store: extend app segment %d: %w", id, err)
	}
	return nil
}

// GetAppSegment fetches one app-focus segment by id, used by C8 to recover
// the bundleId/windowName/browserUrl metadata for a search hit's boost.
func (d *DB) GetAppSegment(id int64) (*AppSegment, error) {
	row := d.QueryRow(
		`SELECT id, bundle_id, start_date, end_date, window_name, browser_url, type
		 FROM segment WHERE id = ?`,
		id,
	)
	var s AppSegment
	err := row.Scan(&s.ID, &s.BundleID, &s.StartDate, &s.EndDate, &s.WindowName, &s.BrowserURL, &s.Type)
	if err != nil {
		return nil, fmt.Errorf("store: get app segment %d: %w", id, err)
	}
	return &s, nil
}

// LastAppSegment returns the most recently created app-focus segment, if
// any, used by ingest and recovery to decide whether an incoming frame
// continues the current context or starts a new one.
func (d *DB) LastAppSegment() (*AppSegment, error) {
	row := d.QueryRow(
		`SELECT id, bundle_id, start_date, end_date, window_name, browser_url, type
		 FROM segment ORDER BY id DESC LIMIT 1`,
	)
	var s AppSegment
	err := row.Scan(&s.ID, &s.BundleID, &s.StartDate, &s.EndDate, &s.WindowName, &s.BrowserURL, &s.Type)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last app segment: %w", err)
	}
	return &s, nil
}
