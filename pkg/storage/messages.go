package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NullCoward/HolonAI/pkg/holon"
)

// Direction selects which side of a holon's message history to query.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	DirectionBoth     Direction = "both"
)

// SaveMessage stores one message. A message shared by several inboxes is
// saved once per inbox; the duplicate inserts are ignored.
func (s *Store) SaveMessage(ctx context.Context, msg *holon.Message) error {
	recipientsJSON, err := marshalJSON(msg.RecipientIDs)
	if err != nil {
		return err
	}
	contentJSON, err := marshalJSON(msg.Content)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO messages (id, sender_id, recipient_ids, content, tokens_attached, timestamp)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.SenderID, recipientsJSON, contentJSON,
		msg.TokensAttached, msg.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// GetMessages returns a holon's message history, newest first.
func (s *Store) GetMessages(ctx context.Context, hobjID string, direction Direction, limit int) ([]*holon.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var condition string
	args := []any{hobjID}
	switch direction {
	case DirectionSent:
		condition = "sender_id=$1"
	case DirectionReceived:
		condition = "recipient_ids LIKE $1"
		args[0] = "%" + hobjID + "%"
	default:
		condition = "(sender_id=$1 OR recipient_ids LIKE $2)"
		args = append(args, "%"+hobjID+"%")
	}
	args = append(args, limit)
	query := fmt.Sprintf(
		`SELECT id, sender_id, recipient_ids, content, tokens_attached, timestamp
         FROM messages WHERE %s ORDER BY timestamp DESC LIMIT $%d`,
		condition, len(args),
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", hobjID, err)
	}
	defer rows.Close()
	var msgs []*holon.Message
	for rows.Next() {
		var (
			msg                        holon.Message
			recipientsJSON, rawContent string
			tsMilli                    int64
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &recipientsJSON, &rawContent, &msg.TokensAttached, &tsMilli); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recipientsJSON), &msg.RecipientIDs); err != nil {
			return nil, fmt.Errorf("decode recipients of message %s: %w", msg.ID, err)
		}
		// Content is stored as JSON; plain text from older files is kept
		// as-is.
		if err := json.Unmarshal([]byte(rawContent), &msg.Content); err != nil {
			msg.Content = rawContent
		}
		msg.Timestamp = time.UnixMilli(tsMilli).UTC()
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
