package store

import "fmt"

// MetricType is the typed event vocabulary the health monitor aggregates.
type MetricType string

const (
	MetricCaptureStarted   MetricType = "capture_started"
	MetricCaptureStopped   MetricType = "capture_stopped"
	MetricSegmentFinalized MetricType = "segment_finalized"
	MetricRecoveryRan      MetricType = "recovery_ran"
	MetricSearchPerformed  MetricType = "search_performed"
)

// Metric is one daily_metrics row: an engagement/operational event with
// optional JSON-encoded metadata.
type Metric struct {
	ID         int64
	MetricType MetricType
	Timestamp  int64 // unix millis
	Metadata   string
}

// RecordMetric inserts one daily_metrics row.
func (d *DB) RecordMetric(metricType MetricType, timestamp int64, metadata string) (int64, error) {
	res, err := d.Exec(
		`INSERT INTO daily_metrics (metric_type, timestamp, metadata) VALUES (?, ?, ?)`,
		string(metricType), timestamp, metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("store: record metric %s: %w", metricType, err)
	}
	return res.LastInsertId()
}

// CountMetricsSince counts events of a given type at or after since (unix
// millis), for the health monitor's aggregation.
func (d *DB) CountMetricsSince(metricType MetricType, since int64) (int, error) {
	row := d.QueryRow(
		`SELECT COUNT(*) FROM daily_metrics WHERE metric_type = ? AND timestamp >= ?`,
		string(metricType), since,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count metrics %s: %w", metricType, err)
	}
	return n, nil
}
