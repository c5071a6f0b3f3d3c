package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/NullCoward/HolonAI/pkg/holon"
)

// restoreMessageLimit bounds how much message history is rehydrated per
// holon when a tree is restored.
const restoreMessageLimit = 1000

// HobjRow is a stored instance: the runtime state of one holon.
type HobjRow struct {
	ID            string
	HolonID       string
	ParentID      string
	Knowledge     map[string]any
	TokenBank     int64
	HeartRateSecs int
	LastHeartbeat time.Time
	NextHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SaveHobj upserts the instance row for a snapshot. Definition and
// instance currently share the holon's id.
func (s *Store) SaveHobj(ctx context.Context, snap *holon.AgentSnapshot) error {
	now := time.Now().UnixMilli()
	knowledgeJSON, err := jsonMapOrNil(snap.Knowledge)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO hobjs (id, holon_id, parent_id, knowledge, token_bank, heart_rate_secs,
                            last_heartbeat, next_heartbeat, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
         ON CONFLICT (id)
         DO UPDATE SET holon_id=excluded.holon_id, parent_id=excluded.parent_id,
                       knowledge=excluded.knowledge, token_bank=excluded.token_bank,
                       heart_rate_secs=excluded.heart_rate_secs,
                       last_heartbeat=excluded.last_heartbeat,
                       next_heartbeat=excluded.next_heartbeat,
                       updated_at=excluded.updated_at`,
		snap.ID, snap.ID, textOrNil(snap.ParentID), knowledgeJSON,
		snap.TokenBank, snap.HeartRateSecs,
		timeToMillis(snap.LastHeartbeat), timeToMillis(snap.NextHeartbeat),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("save hobj %s: %w", snap.ID, err)
	}
	return nil
}

// LoadHobj loads an instance row by id.
func (s *Store) LoadHobj(ctx context.Context, hobjID string) (*HobjRow, error) {
	var (
		row                        HobjRow
		holonID, parentID          sql.NullString
		knowledge                  sql.NullString
		lastBeat, nextBeat         sql.NullInt64
		createdMilli, updatedMilli int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, holon_id, parent_id, knowledge, token_bank, heart_rate_secs,
                last_heartbeat, next_heartbeat, created_at, updated_at
         FROM hobjs WHERE id=$1`, hobjID,
	).Scan(&row.ID, &holonID, &parentID, &knowledge, &row.TokenBank, &row.HeartRateSecs,
		&lastBeat, &nextBeat, &createdMilli, &updatedMilli)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hobj %s: %w", hobjID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("load hobj %s: %w", hobjID, err)
	}
	row.HolonID = holonID.String
	row.ParentID = parentID.String
	if row.Knowledge, err = scanJSONMap(knowledge); err != nil {
		return nil, err
	}
	row.LastHeartbeat = millisToTime(lastBeat)
	row.NextHeartbeat = millisToTime(nextBeat)
	row.CreatedAt = time.UnixMilli(createdMilli).UTC()
	row.UpdatedAt = time.UnixMilli(updatedMilli).UTC()
	return &row, nil
}

// DeleteHobj removes an instance row, reporting whether one existed.
func (s *Store) DeleteHobj(ctx context.Context, hobjID string) (bool, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM hobjs WHERE id=$1`, hobjID)
	if err != nil {
		return false, fmt.Errorf("delete hobj %s: %w", hobjID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

// ListHobjs returns instance ids under a parent; an empty parentID lists
// the roots.
func (s *Store) ListHobjs(ctx context.Context, parentID string) ([]string, error) {
	var (
		rows dbutil.Rows
		err  error
	)
	if parentID == "" {
		rows, err = s.db.Query(ctx, `SELECT id FROM hobjs WHERE parent_id IS NULL`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT id FROM hobjs WHERE parent_id=$1`, parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("list hobjs: %w", err)
	}
	return scanIDs(rows)
}

// ListHobjsByHolon returns the instances built on one definition.
func (s *Store) ListHobjsByHolon(ctx context.Context, holonID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM hobjs WHERE holon_id=$1`, holonID)
	if err != nil {
		return nil, fmt.Errorf("list hobjs by holon: %w", err)
	}
	return scanIDs(rows)
}

// SaveFull upserts both the definition and the instance row.
func (s *Store) SaveFull(ctx context.Context, snap *holon.AgentSnapshot) error {
	if err := s.SaveHolon(ctx, snap); err != nil {
		return err
	}
	return s.SaveHobj(ctx, snap)
}

// SaveAgent is the auto-save hook: agents bound to this store call it
// after every mutation.
func (s *Store) SaveAgent(ctx context.Context, snap *holon.AgentSnapshot) error {
	return s.SaveFull(ctx, snap)
}

// DeleteAgent removes the instance row only. The definition stays because
// other instances may share it.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.DeleteHobj(ctx, id)
	return err
}

// SaveTree saves a holon and every descendant, returning how many holons
// were written.
func (s *Store) SaveTree(ctx context.Context, root *holon.Agent) (int, error) {
	if err := s.SaveFull(ctx, root.Snapshot()); err != nil {
		return 0, err
	}
	count := 1
	for _, child := range root.Children() {
		n, err := s.SaveTree(ctx, child)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// RestoreHobj rebuilds a single holon from storage, without parent or
// children. Use RestoreTree to rebuild a whole hierarchy.
func (s *Store) RestoreHobj(ctx context.Context, hobjID string) (*holon.Agent, error) {
	snap, err := s.loadSnapshot(ctx, hobjID)
	if err != nil {
		return nil, err
	}
	return holon.NewFromSnapshot(snap), nil
}

// RestoreTree rebuilds the tree rooted at rootID: every holon's static
// bindings, knowledge, bank and clocks, the parent/child links, and the
// most recent message history per holon.
func (s *Store) RestoreTree(ctx context.Context, rootID string) (*holon.Agent, error) {
	snap, err := s.loadSnapshot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	root := holon.NewFromSnapshot(snap)
	if err := s.rehydrateMessages(ctx, root); err != nil {
		return nil, err
	}
	if err := s.restoreChildren(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Store) restoreChildren(ctx context.Context, parent *holon.Agent) error {
	childIDs, err := s.ListHobjs(ctx, parent.ID())
	if err != nil {
		return err
	}
	for _, childID := range childIDs {
		snap, err := s.loadSnapshot(ctx, childID)
		if err != nil {
			return err
		}
		child := parent.RestoreChild(snap)
		if err := s.rehydrateMessages(ctx, child); err != nil {
			return err
		}
		if err := s.restoreChildren(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// loadSnapshot joins the instance row with its definition row into the
// snapshot shape the holon constructor accepts. A missing definition is
// fine: the holon restores with instance state only.
func (s *Store) loadSnapshot(ctx context.Context, hobjID string) (*holon.AgentSnapshot, error) {
	hobj, err := s.LoadHobj(ctx, hobjID)
	if err != nil {
		return nil, err
	}
	snap := &holon.AgentSnapshot{
		ID:            hobj.ID,
		ParentID:      hobj.ParentID,
		Knowledge:     hobj.Knowledge,
		TokenBank:     hobj.TokenBank,
		HeartRateSecs: hobj.HeartRateSecs,
		LastHeartbeat: hobj.LastHeartbeat,
		NextHeartbeat: hobj.NextHeartbeat,
	}
	holonID := hobj.HolonID
	if holonID == "" {
		holonID = hobj.ID
	}
	def, err := s.LoadHolon(ctx, holonID)
	if errors.Is(err, ErrNotFound) {
		return snap, nil
	} else if err != nil {
		return nil, err
	}
	snap.Purpose = def.Purpose
	snap.SelfState = def.SelfState
	snap.Actions = def.Actions
	return snap, nil
}

// rehydrateMessages replays stored history into a freshly restored holon,
// oldest first so inbox order matches the original sends.
func (s *Store) rehydrateMessages(ctx context.Context, a *holon.Agent) error {
	msgs, err := s.GetMessages(ctx, a.ID(), DirectionBoth, restoreMessageLimit)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		a.RestoreMessage(msgs[i])
	}
	return nil
}

func scanIDs(rows dbutil.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
