package holon

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable record of one send_message call. The same value
// is shared by the sender's and every recipient's inbox.
type Message struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	RecipientIDs   []string  `json:"recipient_ids"`
	Content        any       `json:"content"`
	TokensAttached int64     `json:"tokens_attached"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewMessage builds a message with a fresh id and the current UTC time.
// tokens_attached is declared intent only: delivery never moves balance
// between token banks.
func NewMessage(senderID string, recipientIDs []string, content any, tokens int64) *Message {
	ids := make([]string, len(recipientIDs))
	copy(ids, recipientIDs)
	return &Message{
		ID:             uuid.New().String(),
		SenderID:       senderID,
		RecipientIDs:   ids,
		Content:        content,
		TokensAttached: tokens,
		Timestamp:      time.Now().UTC(),
	}
}

// Involves reports whether id is the sender or one of the recipients.
func (m *Message) Involves(id string) bool {
	if m.SenderID == id {
		return true
	}
	for _, rid := range m.RecipientIDs {
		if rid == id {
			return true
		}
	}
	return false
}
