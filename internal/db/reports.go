package db

import (
	"context"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/report"
)

// DefaultReportLimit caps RecentReports when no positive limit is given.
const DefaultReportLimit = 100

// RecordReport stores one report.
func (db *DB) RecordReport(ctx context.Context, r report.Report) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO reports (sensor_id, occupants, radar_count, motion, report_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		r.SensorID, r.Occupants, r.RadarCount, r.Motion, r.Time.UnixNano(),
	)
	return err
}

// Send implements report.Sink.
func (db *DB) Send(ctx context.Context, r report.Report) error {
	return db.RecordReport(ctx, r)
}

// RecentReports returns up to limit reports, newest first.
func (db *DB) RecentReports(ctx context.Context, limit int) ([]report.Report, error) {
	if limit <= 0 {
		limit = DefaultReportLimit
	}
	return db.queryReports(ctx,
		`SELECT sensor_id, occupants, radar_count, motion, report_unix_nanos
		FROM reports ORDER BY report_unix_nanos DESC, report_id DESC LIMIT ?`, limit)
}

// ReportsSince returns all reports at or after since, oldest first.
func (db *DB) ReportsSince(ctx context.Context, since time.Time) ([]report.Report, error) {
	return db.queryReports(ctx,
		`SELECT sensor_id, occupants, radar_count, motion, report_unix_nanos
		FROM reports WHERE report_unix_nanos >= ? ORDER BY report_unix_nanos ASC, report_id ASC`,
		since.UnixNano())
}

func (db *DB) queryReports(ctx context.Context, query string, args ...interface{}) ([]report.Report, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []report.Report
	for rows.Next() {
		var (
			r     report.Report
			nanos int64
		)
		if err := rows.Scan(&r.SensorID, &r.Occupants, &r.RadarCount, &r.Motion, &nanos); err != nil {
			return nil, err
		}
		r.Time = time.Unix(0, nanos).UTC()
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}
