package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TelemetrySnapshotRow is one stored telemetry summary.
type TelemetrySnapshotRow struct {
	ID           int64
	SnapshotTime time.Time
	Data         map[string]any
}

// SaveTelemetrySnapshot stores one telemetry summary. The snapshotter
// calls this on its cron schedule.
func (s *Store) SaveTelemetrySnapshot(ctx context.Context, takenAt time.Time, data map[string]any) error {
	dataJSON, err := marshalJSON(data)
	if err != nil {
		return err
	}
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO telemetry_snapshots (snapshot_time, data) VALUES ($1, $2)`,
		takenAt.UnixMilli(), dataJSON,
	)
	if err != nil {
		return fmt.Errorf("save telemetry snapshot: %w", err)
	}
	return nil
}

// GetTelemetrySnapshots lists stored summaries, newest first. A zero
// since means unbounded; a non-positive limit defaults to 100.
func (s *Store) GetTelemetrySnapshots(ctx context.Context, since time.Time, limit int) ([]TelemetrySnapshotRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, snapshot_time, data FROM telemetry_snapshots`
	var args []any
	if !since.IsZero() {
		args = append(args, since.UnixMilli())
		query += " WHERE snapshot_time >= $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY snapshot_time DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list telemetry snapshots: %w", err)
	}
	defer rows.Close()
	var snaps []TelemetrySnapshotRow
	for rows.Next() {
		var (
			snap      TelemetrySnapshotRow
			timeMilli int64
			dataJSON  string
		)
		if err := rows.Scan(&snap.ID, &timeMilli, &dataJSON); err != nil {
			return nil, err
		}
		snap.SnapshotTime = time.UnixMilli(timeMilli).UTC()
		if err := json.Unmarshal([]byte(dataJSON), &snap.Data); err != nil {
			return nil, fmt.Errorf("decode telemetry snapshot %d: %w", snap.ID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
