package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NullCoward/HolonAI/pkg/holon"
)

// HolonRow is a stored definition: the shareable part of a holon.
type HolonRow struct {
	ID        string
	Purpose   map[string]any
	SelfState map[string]any
	Actions   []holon.ActionDescriptor
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HolonReference links an instance to a definition it uses.
type HolonReference struct {
	HolonID       string
	HobjID        string
	ReferenceType string
	CreatedAt     time.Time
}

// SaveHolon upserts the definition row for a snapshot. Dynamic binding
// leaves are already stripped from the snapshot; only static values land
// in the database.
func (s *Store) SaveHolon(ctx context.Context, snap *holon.AgentSnapshot) error {
	now := time.Now().UnixMilli()
	purposeJSON, err := jsonMapOrNil(snap.Purpose)
	if err != nil {
		return err
	}
	selfJSON, err := jsonMapOrNil(snap.SelfState)
	if err != nil {
		return err
	}
	var actionsJSON any
	if len(snap.Actions) > 0 {
		actionsJSON, err = marshalJSON(snap.Actions)
		if err != nil {
			return err
		}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO holons (id, purpose, self_state, actions, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id)
         DO UPDATE SET purpose=excluded.purpose, self_state=excluded.self_state,
                       actions=excluded.actions, updated_at=excluded.updated_at`,
		snap.ID, purposeJSON, selfJSON, actionsJSON, now, now,
	)
	if err != nil {
		return fmt.Errorf("save holon %s: %w", snap.ID, err)
	}
	return nil
}

// LoadHolon loads a definition by id.
func (s *Store) LoadHolon(ctx context.Context, holonID string) (*HolonRow, error) {
	var (
		row                        HolonRow
		purpose, selfState, acts   sql.NullString
		createdMilli, updatedMilli int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, purpose, self_state, actions, created_at, updated_at
         FROM holons WHERE id=$1`, holonID,
	).Scan(&row.ID, &purpose, &selfState, &acts, &createdMilli, &updatedMilli)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holon %s: %w", holonID, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("load holon %s: %w", holonID, err)
	}
	if row.Purpose, err = scanJSONMap(purpose); err != nil {
		return nil, err
	}
	if row.SelfState, err = scanJSONMap(selfState); err != nil {
		return nil, err
	}
	if acts.Valid && acts.String != "" {
		if err := json.Unmarshal([]byte(acts.String), &row.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for holon %s: %w", holonID, err)
		}
	}
	row.CreatedAt = time.UnixMilli(createdMilli).UTC()
	row.UpdatedAt = time.UnixMilli(updatedMilli).UTC()
	return &row, nil
}

// DeleteHolon removes a definition. Instances referencing it keep running
// from their in-memory state.
func (s *Store) DeleteHolon(ctx context.Context, holonID string) (bool, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM holons WHERE id=$1`, holonID)
	if err != nil {
		return false, fmt.Errorf("delete holon %s: %w", holonID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

// ListHolons returns all stored definition ids.
func (s *Store) ListHolons(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM holons`)
	if err != nil {
		return nil, fmt.Errorf("list holons: %w", err)
	}
	return scanIDs(rows)
}

// AddHolonReference records that an instance uses a definition.
// referenceType defaults to "primary".
func (s *Store) AddHolonReference(ctx context.Context, holonID, hobjID, referenceType string) error {
	if referenceType == "" {
		referenceType = "primary"
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO holon_references (holon_id, hobj_id, reference_type, created_at)
         VALUES ($1, $2, $3, $4)`,
		holonID, hobjID, referenceType, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("add holon reference %s->%s: %w", hobjID, holonID, err)
	}
	return nil
}

// RemoveHolonReference deletes a reference, reporting whether one existed.
func (s *Store) RemoveHolonReference(ctx context.Context, holonID, hobjID string) (bool, error) {
	res, err := s.db.Exec(ctx,
		`DELETE FROM holon_references WHERE holon_id=$1 AND hobj_id=$2`,
		holonID, hobjID,
	)
	if err != nil {
		return false, fmt.Errorf("remove holon reference %s->%s: %w", hobjID, holonID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

// GetHolonReferences returns the instances referencing a definition.
func (s *Store) GetHolonReferences(ctx context.Context, holonID string) ([]HolonReference, error) {
	return s.queryReferences(ctx,
		`SELECT holon_id, hobj_id, reference_type, created_at
         FROM holon_references WHERE holon_id=$1`, holonID)
}

// GetHobjHolonReferences returns the definitions an instance references.
func (s *Store) GetHobjHolonReferences(ctx context.Context, hobjID string) ([]HolonReference, error) {
	return s.queryReferences(ctx,
		`SELECT holon_id, hobj_id, reference_type, created_at
         FROM holon_references WHERE hobj_id=$1`, hobjID)
}

func (s *Store) queryReferences(ctx context.Context, query string, arg any) ([]HolonReference, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list holon references: %w", err)
	}
	defer rows.Close()
	var refs []HolonReference
	for rows.Next() {
		var (
			ref          HolonReference
			createdMilli int64
		)
		if err := rows.Scan(&ref.HolonID, &ref.HobjID, &ref.ReferenceType, &createdMilli); err != nil {
			return nil, err
		}
		ref.CreatedAt = time.UnixMilli(createdMilli).UTC()
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
