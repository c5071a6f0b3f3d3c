package holon

import (
	"context"
	"time"
)

// Storage is the persistence hook an agent auto-saves through. The agent
// hands over immutable snapshots so implementations never read live tree
// state.
type Storage interface {
	// SaveAgent upserts the agent's definition and instance rows.
	SaveAgent(ctx context.Context, snap *AgentSnapshot) error
	// SaveMessage records a message. Implementations must tolerate the
	// same message id being saved once per involved inbox.
	SaveMessage(ctx context.Context, msg *Message) error
	// DeleteAgent removes the instance row for id.
	DeleteAgent(ctx context.Context, id string) error
}

// AgentSnapshot is the persistable view of an agent at one instant.
// Dynamic binding leaves are already stripped; they are re-registered by
// the constructor on restore.
type AgentSnapshot struct {
	ID            string
	ParentID      string
	Purpose       map[string]any
	SelfState     map[string]any
	Actions       []ActionDescriptor
	Knowledge     map[string]any
	TokenBank     int64
	HeartRateSecs int
	LastHeartbeat time.Time
	NextHeartbeat time.Time
}

// ActionDescriptor is the stored, callback-free form of a registered
// action. Restores use it for inspection only: built-in actions are
// re-registered by the constructor and application actions must be
// re-attached by the application.
type ActionDescriptor struct {
	Name       string  `json:"name"`
	Purpose    string  `json:"purpose,omitempty"`
	Parameters []Param `json:"parameters"`
	Returns    string  `json:"returns,omitempty"`
	Doc        string  `json:"docstring,omitempty"`
}

// Snapshot captures the agent's persistable state under the tree lock.
func (a *Agent) Snapshot() *AgentSnapshot {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Agent) snapshotLocked() *AgentSnapshot {
	snap := &AgentSnapshot{
		ID:            a.id,
		TokenBank:     a.tokenBank,
		HeartRateSecs: a.heartRateSecs,
		LastHeartbeat: a.lastHeartbeat,
		NextHeartbeat: a.nextHeartbeat,
	}
	if a.parent != nil {
		snap.ParentID = a.parent.id
	}
	if purpose, ok := dropDynamic(a.purpose); ok {
		snap.Purpose = purpose.(map[string]any)
	}
	if selfState, ok := dropDynamic(a.selfState); ok {
		snap.SelfState = selfState.(map[string]any)
	}
	snap.Knowledge = deepCopyValue(a.knowledge).(map[string]any)
	for _, act := range a.actions.All() {
		snap.Actions = append(snap.Actions, describeAction(act))
	}
	return snap
}

func describeAction(act *Action) ActionDescriptor {
	desc := ActionDescriptor{
		Name:    act.Name,
		Purpose: act.Purpose,
		Returns: act.Signature.ReturnType,
		Doc:     act.Signature.Doc,
	}
	desc.Parameters = make([]Param, len(act.Signature.Params))
	copy(desc.Parameters, act.Signature.Params)
	return desc
}
