// Package layout manages the date-bucketed on-disk paths for encoded
// segments and relative-path accounting for the database.
//
// Grounded on the teacher's date-bucketed backup path construction
// (internal/backup/snapshot.go), generalized from scheduled backup archives
// to continuously produced video segments.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Manager resolves paths under a single storage root:
//
//	{root}/segments/YYYY/MM/DD/segment_{id}
//	{root}/wal/
//	{root}/temp/
//	{root}/models/
type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: filepath.Clean(root)}
}

func (m *Manager) Root() string { return m.root }

// SegmentDir returns the absolute directory that should hold segment_{id}'s
// encoded file, bucketed by the given date (normally the segment's start time).
func (m *Manager) SegmentDir(date time.Time) string {
	return filepath.Join(m.root, "segments",
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", date.Month()),
		fmt.Sprintf("%02d", date.Day()),
	)
}

// SegmentPath returns the absolute path to segment_{id}'s encoded file. The
// container type is implicit; no extension is appended.
func (m *Manager) SegmentPath(date time.Time, id int64) string {
	return filepath.Join(m.SegmentDir(date), fmt.Sprintf("segment_%d", id))
}

// WALRoot returns the root directory shared only between the WAL manager and
// the recovery manager.
func (m *Manager) WALRoot() string {
	return filepath.Join(m.root, "wal")
}

// TempDir returns the directory for in-flight auxiliary files.
func (m *Manager) TempDir() string {
	return filepath.Join(m.root, "temp")
}

// ModelsDir returns the directory for downloaded ML assets owned by
// external collaborators (OCR models etc.); never written by this package.
func (m *Manager) ModelsDir() string {
	return filepath.Join(m.root, "models")
}

// Relative converts an absolute path under root to a path relative to root,
// the form persisted in the database.
func (m *Manager) Relative(absPath string) (string, error) {
	rel, err := filepath.Rel(m.root, absPath)
	if err != nil {
		return "", fmt.Errorf("layout: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("layout: path %q escapes storage root", absPath)
	}
	return rel, nil
}

// Absolute resolves a database-stored relative path back to an absolute one.
func (m *Manager) Absolute(relPath string) string {
	return filepath.Join(m.root, relPath)
}
