package holon

import (
	"context"
	"fmt"
)

// AddMessage appends a message to the inbox and persists it when storage
// is bound. Delivery of one message touches several inboxes, so storage
// sees the same id more than once.
func (a *Agent) AddMessage(msg *Message) error {
	a.tree.mu.Lock()
	a.inbox = append(a.inbox, msg)
	store := a.storage
	a.tree.mu.Unlock()
	if store == nil {
		return nil
	}
	if err := store.SaveMessage(context.Background(), msg); err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// RestoreMessage appends to the inbox without persisting; used when
// rebuilding an agent from storage.
func (a *Agent) RestoreMessage(msg *Message) {
	a.tree.mu.Lock()
	a.inbox = append(a.inbox, msg)
	a.tree.mu.Unlock()
}

// SendMessage creates a message and delivers it to every recipient that
// resolves within this tree. The sender always keeps the message in its
// own inbox; ids that resolve nowhere are dropped silently and the sender
// itself is never double-delivered.
func (a *Agent) SendMessage(recipientIDs []string, content any, tokens int64) (*Message, error) {
	msg := NewMessage(a.id, recipientIDs, content, tokens)
	err := a.AddMessage(msg)

	a.tree.mu.Lock()
	recipients := make([]*Agent, 0, len(recipientIDs))
	for _, rid := range recipientIDs {
		if recipient := a.findInTreeLocked(rid); recipient != nil && recipient.id != a.id {
			recipients = append(recipients, recipient)
		}
	}
	a.tree.mu.Unlock()

	for _, recipient := range recipients {
		if addErr := recipient.AddMessage(msg); addErr != nil && err == nil {
			err = addErr
		}
	}
	return msg, err
}

// Messages returns the inbox in arrival order.
func (a *Agent) Messages() []*Message {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	out := make([]*Message, len(a.inbox))
	copy(out, a.inbox)
	return out
}

// ReceivedMessages filters the inbox to messages addressed to this agent.
func (a *Agent) ReceivedMessages() []*Message {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	var out []*Message
	for _, msg := range a.inbox {
		for _, rid := range msg.RecipientIDs {
			if rid == a.id {
				out = append(out, msg)
				break
			}
		}
	}
	return out
}

// SentMessages filters the inbox to messages this agent sent.
func (a *Agent) SentMessages() []*Message {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	var out []*Message
	for _, msg := range a.inbox {
		if msg.SenderID == a.id {
			out = append(out, msg)
		}
	}
	return out
}
