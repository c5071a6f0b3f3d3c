package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NullCoward/HolonAI/pkg/heart"
)

// HeartbeatRow is a stored heartbeat. Listings fill only the summary
// columns; GetHeartbeat additionally loads prompt, response and the
// per-holon participation rows.
type HeartbeatRow struct {
	ID            int64
	HeartbeatTime time.Time
	Prompt        string
	Response      string
	HobjCount     int
	DurationMS    float64
	Participants  []HeartbeatParticipant
}

// HeartbeatParticipant is one holon's share of a stored heartbeat.
type HeartbeatParticipant struct {
	HobjID        string
	HUDSent       map[string]any
	ActionsResult map[string]any
}

// HobjHeartbeat is one row of a holon's heartbeat history.
type HobjHeartbeat struct {
	HeartbeatID   int64
	HeartbeatTime time.Time
	HUDSent       map[string]any
	ActionsResult map[string]any
}

// HeartbeatQuery filters GetHeartbeats. Zero times mean unbounded; a
// non-positive limit defaults to 100.
type HeartbeatQuery struct {
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// SaveHeartbeat stores a completed heartbeat and each participant's HUD
// snapshot and action results, atomically.
func (s *Store) SaveHeartbeat(ctx context.Context, hb *heart.Heartbeat) error {
	now := time.Now().UnixMilli()
	var duration any
	if exec, completion := hb.ExecutionTime(), hb.CompletionTime(); !exec.IsZero() && !completion.IsZero() {
		duration = float64(completion.Sub(exec)) / float64(time.Millisecond)
	}
	return s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		res, err := s.db.Exec(ctx,
			`INSERT INTO heartbeats (heartbeat_time, prompt, response, hobj_count, duration_ms, created_at)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			hb.HeartbeatTime().UnixMilli(), textOrNil(hb.FullPrompt()), textOrNil(hb.RawResponse()),
			hb.Len(), duration, now,
		)
		if err != nil {
			return fmt.Errorf("save heartbeat: %w", err)
		}
		heartbeatID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("save heartbeat: %w", err)
		}
		for _, rec := range hb.Records() {
			hudJSON, err := marshalJSON(rec.HUDSent)
			if err != nil {
				return err
			}
			actionsJSON, err := marshalJSON(rec.ActionsResult)
			if err != nil {
				return err
			}
			_, err = s.db.Exec(ctx,
				`INSERT INTO heartbeat_hobjs (heartbeat_id, hobj_id, hud_sent, actions_result)
                 VALUES ($1, $2, $3, $4)`,
				heartbeatID, rec.Agent.ID(), hudJSON, actionsJSON,
			)
			if err != nil {
				return fmt.Errorf("save heartbeat participant %s: %w", rec.Agent.ID(), err)
			}
		}
		return nil
	})
}

// GetHeartbeat loads one heartbeat with its participants.
func (s *Store) GetHeartbeat(ctx context.Context, heartbeatID int64) (*HeartbeatRow, error) {
	var (
		row              HeartbeatRow
		beatMilli        int64
		prompt, response sql.NullString
		duration         sql.NullFloat64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, heartbeat_time, prompt, response, hobj_count, duration_ms
         FROM heartbeats WHERE id=$1`, heartbeatID,
	).Scan(&row.ID, &beatMilli, &prompt, &response, &row.HobjCount, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("heartbeat %d: %w", heartbeatID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("load heartbeat %d: %w", heartbeatID, err)
	}
	row.HeartbeatTime = time.UnixMilli(beatMilli).UTC()
	row.Prompt = prompt.String
	row.Response = response.String
	row.DurationMS = duration.Float64

	rows, err := s.db.Query(ctx,
		`SELECT hobj_id, hud_sent, actions_result
         FROM heartbeat_hobjs WHERE heartbeat_id=$1`, heartbeatID,
	)
	if err != nil {
		return nil, fmt.Errorf("load heartbeat %d participants: %w", heartbeatID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			part         HeartbeatParticipant
			hud, actions sql.NullString
		)
		if err := rows.Scan(&part.HobjID, &hud, &actions); err != nil {
			return nil, err
		}
		if part.HUDSent, err = scanJSONMap(hud); err != nil {
			return nil, err
		}
		if part.ActionsResult, err = scanJSONMap(actions); err != nil {
			return nil, err
		}
		row.Participants = append(row.Participants, part)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetHeartbeats lists heartbeat summaries, newest first.
func (s *Store) GetHeartbeats(ctx context.Context, q HeartbeatQuery) ([]*HeartbeatRow, error) {
	query := `SELECT id, heartbeat_time, hobj_count, duration_ms FROM heartbeats`
	var args []any
	if !q.Since.IsZero() {
		args = append(args, q.Since.UnixMilli())
		query += fmt.Sprintf(" WHERE heartbeat_time >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until.UnixMilli())
		if len(args) == 1 {
			query += fmt.Sprintf(" WHERE heartbeat_time <= $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND heartbeat_time <= $%d", len(args))
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)
	query += fmt.Sprintf(" ORDER BY heartbeat_time DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()
	var beats []*HeartbeatRow
	for rows.Next() {
		var (
			row       HeartbeatRow
			beatMilli int64
			duration  sql.NullFloat64
		)
		if err := rows.Scan(&row.ID, &beatMilli, &row.HobjCount, &duration); err != nil {
			return nil, err
		}
		row.HeartbeatTime = time.UnixMilli(beatMilli).UTC()
		row.DurationMS = duration.Float64
		beats = append(beats, &row)
	}
	return beats, rows.Err()
}

// GetHobjHeartbeats lists one holon's heartbeat history, newest first.
func (s *Store) GetHobjHeartbeats(ctx context.Context, hobjID string, limit int) ([]HobjHeartbeat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT h.id, h.heartbeat_time, hh.hud_sent, hh.actions_result
         FROM heartbeats h
         JOIN heartbeat_hobjs hh ON h.id = hh.heartbeat_id
         WHERE hh.hobj_id=$1
         ORDER BY h.heartbeat_time DESC
         LIMIT $2`,
		hobjID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats for %s: %w", hobjID, err)
	}
	defer rows.Close()
	var beats []HobjHeartbeat
	for rows.Next() {
		var (
			beat         HobjHeartbeat
			beatMilli    int64
			hud, actions sql.NullString
		)
		if err := rows.Scan(&beat.HeartbeatID, &beatMilli, &hud, &actions); err != nil {
			return nil, err
		}
		beat.HeartbeatTime = time.UnixMilli(beatMilli).UTC()
		if beat.HUDSent, err = scanJSONMap(hud); err != nil {
			return nil, err
		}
		if beat.ActionsResult, err = scanJSONMap(actions); err != nil {
			return nil, err
		}
		beats = append(beats, beat)
	}
	return beats, rows.Err()
}
