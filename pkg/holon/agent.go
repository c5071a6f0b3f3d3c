// Package holon implements the agent tree: hierarchical agents carrying
// purpose/self/knowledge state, a registry of dispatchable actions, a
// token bank and heartbeat clocks. Agents render themselves for the AI
// through the HUD converter and persist through a bound Storage.
package holon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NullCoward/HolonAI/pkg/holon/paths"
	"github.com/google/uuid"
)

// InterfaceAgentID is the reserved id of the human interface agent. It is
// never scheduled for heartbeats.
const InterfaceAgentID = "00000000-0000-0000-0000-000000000000"

// Tree is the lock arena shared by every agent reachable from one root.
// Topology walks, HUD snapshots and state mutations all serialize on it,
// so a dynamic binding resolved mid-walk sees a consistent tree.
type Tree struct {
	mu sync.Mutex
}

// Agent is one node of a holon tree.
type Agent struct {
	tree *Tree

	id       string
	parent   *Agent
	children []*Agent

	purpose   map[string]any
	selfState map[string]any
	knowledge map[string]any
	actions   *Actions

	tokenBank     int64
	heartRateSecs int
	lastHeartbeat time.Time
	nextHeartbeat time.Time
	active        *heartbeatMarker

	inbox   []*Message
	storage Storage
}

// heartbeatMarker pins an agent to its in-flight heartbeat.
type heartbeatMarker struct {
	scheduled time.Time
	started   time.Time
}

// New creates a root agent with a fresh id and its own tree.
func New() *Agent {
	return NewWithID(uuid.New().String())
}

// NewWithID creates a root agent with a caller-chosen id.
func NewWithID(id string) *Agent {
	return newAgent(&Tree{}, nil, id)
}

func newAgent(tree *Tree, parent *Agent, id string) *Agent {
	a := &Agent{
		tree:          tree,
		id:            id,
		parent:        parent,
		purpose:       make(map[string]any),
		selfState:     make(map[string]any),
		knowledge:     make(map[string]any),
		actions:       NewActions(),
		heartRateSecs: 1,
		nextHeartbeat: time.Now().UTC(),
	}
	a.installSelfBindings()
	a.registerBuiltinActions()
	return a
}

// installSelfBindings registers the well-known dynamic self leaves. The
// closures read fields directly because resolution always runs under the
// tree lock; they must never call public Agent methods.
func (a *Agent) installSelfBindings() {
	a.selfState["current_time"] = Dynamic(func() any { return isoTime(time.Now()) })
	a.selfState["holon_id"] = Dynamic(func() any { return a.id })
	a.selfState["holon_tree"] = Dynamic(func() any { return a.relationshipsLocked() })
	a.selfState["knowledge"] = Dynamic(func() any { return a.knowledge })
	a.selfState["token_bank"] = Dynamic(func() any { return a.tokenBank })
	a.selfState["last_heartbeat"] = Dynamic(func() any {
		if a.lastHeartbeat.IsZero() {
			return nil
		}
		return isoTime(a.lastHeartbeat)
	})
	a.selfState["next_heartbeat"] = Dynamic(func() any { return isoTime(a.nextHeartbeat) })
	a.selfState["heart_rate_secs"] = Dynamic(func() any { return a.heartRateSecs })
}

// relationshipsLocked builds the holon_tree leaf: immediate children and
// the parent, each with their token bank.
func (a *Agent) relationshipsLocked() map[string]any {
	children := make([]any, 0, len(a.children))
	for _, child := range a.children {
		children = append(children, map[string]any{
			"id":         child.id,
			"token_bank": child.tokenBank,
		})
	}
	tree := map[string]any{"holon_children": children}
	if a.parent != nil {
		tree["holon_parent"] = map[string]any{
			"id":         a.parent.id,
			"token_bank": a.parent.tokenBank,
		}
	}
	return tree
}

// NewFromSnapshot rebuilds a root agent from its stored state. Dynamic
// self leaves come from the constructor; the snapshot contributes the
// static leaves, knowledge, token bank and clocks.
func NewFromSnapshot(snap *AgentSnapshot) *Agent {
	a := NewWithID(snap.ID)
	a.applySnapshot(snap)
	return a
}

// RestoreChild attaches a child rebuilt from a stored snapshot. Unlike
// CreateChild it never writes back: the caller is rebuilding a tree that
// is already persisted.
func (a *Agent) RestoreChild(snap *AgentSnapshot) *Agent {
	a.tree.mu.Lock()
	child := newAgent(a.tree, a, snap.ID)
	a.children = append(a.children, child)
	a.tree.mu.Unlock()
	child.applySnapshot(snap)
	return child
}

func (a *Agent) applySnapshot(snap *AgentSnapshot) {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	for k, v := range snap.Purpose {
		a.purpose[k] = deepCopyValue(v)
	}
	for k, v := range snap.SelfState {
		a.selfState[k] = deepCopyValue(v)
	}
	if snap.Knowledge != nil {
		a.knowledge = deepCopyValue(snap.Knowledge).(map[string]any)
	}
	a.tokenBank = snap.TokenBank
	if snap.HeartRateSecs > 0 {
		a.heartRateSecs = snap.HeartRateSecs
	}
	a.lastHeartbeat = snap.LastHeartbeat
	if !snap.NextHeartbeat.IsZero() {
		a.nextHeartbeat = snap.NextHeartbeat
	}
}

// ID returns the agent's immutable id.
func (a *Agent) ID() string {
	return a.id
}

// Parent returns the parent agent, nil for roots.
func (a *Agent) Parent() *Agent {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.parent
}

// ParentID returns the parent's id, empty for roots.
func (a *Agent) ParentID() string {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	if a.parent == nil {
		return ""
	}
	return a.parent.id
}

// TokenBank returns the current balance. Negative balances are legal and
// mean the agent is excluded from scheduling until refunded.
func (a *Agent) TokenBank() int64 {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.tokenBank
}

// SetTokenBank replaces the balance.
func (a *Agent) SetTokenBank(value int64) error {
	a.tree.mu.Lock()
	a.tokenBank = value
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// AddTokens adjusts the balance by delta and returns the new balance.
func (a *Agent) AddTokens(delta int64) (int64, error) {
	a.tree.mu.Lock()
	a.tokenBank += delta
	balance := a.tokenBank
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return balance, commitSaves(save)
}

// HeartRateSecs returns the heartbeat cadence in seconds.
func (a *Agent) HeartRateSecs() int {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.heartRateSecs
}

// SetHeartRateSecs changes the cadence. It takes effect after the next
// dispatched heartbeat.
func (a *Agent) SetHeartRateSecs(secs int) error {
	a.tree.mu.Lock()
	a.heartRateSecs = secs
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// LastHeartbeat returns when the agent last completed a heartbeat, zero
// if never.
func (a *Agent) LastHeartbeat() time.Time {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.lastHeartbeat
}

// NextHeartbeat returns the scheduled wake time.
func (a *Agent) NextHeartbeat() time.Time {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.nextHeartbeat
}

// SetNextHeartbeat reschedules the next wake.
func (a *Agent) SetNextHeartbeat(t time.Time) error {
	a.tree.mu.Lock()
	a.nextHeartbeat = t
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// DelayHeartbeat pushes the next wake back by seconds relative to its
// current scheduled time. Negative delays are ignored.
func (a *Agent) DelayHeartbeat(seconds int64) error {
	if seconds < 0 {
		seconds = 0
	}
	a.tree.mu.Lock()
	a.nextHeartbeat = a.nextHeartbeat.Add(time.Duration(seconds) * time.Second)
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// Knowledge returns a deep copy of the knowledge tree.
func (a *Agent) Knowledge() map[string]any {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return deepCopyValue(a.knowledge).(map[string]any)
}

// KnowledgeGet returns the value at a dot.path. An empty path returns the
// whole knowledge tree.
func (a *Agent) KnowledgeGet(path string) (any, error) {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	if path == "" {
		return deepCopyValue(a.knowledge), nil
	}
	v, err := paths.Get(a.knowledge, path)
	if err != nil {
		return nil, err
	}
	return deepCopyValue(v), nil
}

// KnowledgeSet writes value at a dot.path, creating intermediate maps.
func (a *Agent) KnowledgeSet(path string, value any) error {
	a.tree.mu.Lock()
	if err := paths.Set(a.knowledge, path, value); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// KnowledgeDelete removes the value at a dot.path.
func (a *Agent) KnowledgeDelete(path string) error {
	a.tree.mu.Lock()
	if err := paths.Delete(a.knowledge, path); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// KnowledgeMove relocates the value at from to to.
func (a *Agent) KnowledgeMove(from, to string) error {
	a.tree.mu.Lock()
	if err := paths.Move(a.knowledge, from, to); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// KnowledgeExists reports whether a dot.path resolves.
func (a *Agent) KnowledgeExists(path string) bool {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return paths.Exists(a.knowledge, path)
}

// KnowledgeReplace swaps the whole knowledge tree.
func (a *Agent) KnowledgeReplace(m map[string]any) error {
	a.tree.mu.Lock()
	if m == nil {
		m = map[string]any{}
	}
	a.knowledge = deepCopyValue(m).(map[string]any)
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// PurposeResolve returns the purpose tree with every dynamic binding
// resolved.
func (a *Agent) PurposeResolve() map[string]any {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return resolveValue(a.purpose).(map[string]any)
}

// PurposeGet resolves bindings and returns the value at path. An empty
// path returns the whole resolved purpose.
func (a *Agent) PurposeGet(path string) (any, error) {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	resolved := resolveValue(a.purpose).(map[string]any)
	if path == "" {
		return resolved, nil
	}
	return paths.Get(resolved, path)
}

// PurposeSet writes a value (static or Dynamic) at path.
func (a *Agent) PurposeSet(path string, value any) error {
	a.tree.mu.Lock()
	if err := paths.Set(a.purpose, path, value); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// PurposeDelete removes the value at path.
func (a *Agent) PurposeDelete(path string) error {
	a.tree.mu.Lock()
	if err := paths.Delete(a.purpose, path); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// PurposeMove relocates a purpose value.
func (a *Agent) PurposeMove(from, to string) error {
	a.tree.mu.Lock()
	if err := paths.Move(a.purpose, from, to); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// PurposeExists reports whether path resolves in the purpose bindings.
func (a *Agent) PurposeExists(path string) bool {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return paths.Exists(a.purpose, path)
}

// PurposeClear drops every purpose binding.
func (a *Agent) PurposeClear() error {
	a.tree.mu.Lock()
	a.purpose = make(map[string]any)
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// PurposeReplace swaps the whole purpose tree.
func (a *Agent) PurposeReplace(m map[string]any) error {
	a.tree.mu.Lock()
	if m == nil {
		m = map[string]any{}
	}
	a.purpose = deepCopyValue(m).(map[string]any)
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// SelfResolve returns the self tree with every dynamic binding resolved.
func (a *Agent) SelfResolve() map[string]any {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return resolveValue(a.selfState).(map[string]any)
}

// SelfGet resolves bindings and returns the value at path. An empty path
// returns the whole resolved self state.
func (a *Agent) SelfGet(path string) (any, error) {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	resolved := resolveValue(a.selfState).(map[string]any)
	if path == "" {
		return resolved, nil
	}
	return paths.Get(resolved, path)
}

// SelfSet writes a value (static or Dynamic) at path.
func (a *Agent) SelfSet(path string, value any) error {
	a.tree.mu.Lock()
	if err := paths.Set(a.selfState, path, value); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// SelfDelete removes the value at path.
func (a *Agent) SelfDelete(path string) error {
	a.tree.mu.Lock()
	if err := paths.Delete(a.selfState, path); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// SelfMove relocates a self value.
func (a *Agent) SelfMove(from, to string) error {
	a.tree.mu.Lock()
	if err := paths.Move(a.selfState, from, to); err != nil {
		a.tree.mu.Unlock()
		return err
	}
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// SelfExists reports whether path resolves in the self bindings.
func (a *Agent) SelfExists(path string) bool {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return paths.Exists(a.selfState, path)
}

// AddAction registers an action, replacing any prior action of the same
// name. Actions are not persisted with callbacks; applications re-register
// custom actions after a restore.
func (a *Agent) AddAction(act Action) {
	a.tree.mu.Lock()
	a.actions.Add(act)
	a.tree.mu.Unlock()
}

// ActionDescriptors returns the callback-free view of the registry in
// registration order.
func (a *Agent) ActionDescriptors() []ActionDescriptor {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	out := make([]ActionDescriptor, 0, a.actions.Len())
	for _, act := range a.actions.All() {
		out = append(out, describeAction(act))
	}
	return out
}

// Dispatch invokes a registered action by name. The callback runs outside
// the tree lock so actions are free to mutate the agent.
func (a *Agent) Dispatch(name string, params map[string]any) (any, error) {
	a.tree.mu.Lock()
	act, ok := a.actions.Get(name)
	a.tree.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("action %q: %w", name, ErrActionNotFound)
	}
	bound, err := bindParams(act, params)
	if err != nil {
		return nil, err
	}
	return act.fn(bound)
}

// BindStorage attaches a persistence backend and saves the current state.
func (a *Agent) BindStorage(st Storage) error {
	a.tree.mu.Lock()
	a.storage = st
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return commitSaves(save)
}

// BindStorageTree binds st to this agent and every descendant, saving
// each.
func (a *Agent) BindStorageTree(st Storage) error {
	a.tree.mu.Lock()
	var saves []*pendingSave
	a.bindStorageTreeLocked(st, &saves)
	a.tree.mu.Unlock()
	return commitSaves(saves...)
}

func (a *Agent) bindStorageTreeLocked(st Storage, saves *[]*pendingSave) {
	a.storage = st
	*saves = append(*saves, a.pendingSaveLocked())
	for _, child := range a.children {
		child.bindStorageTreeLocked(st, saves)
	}
}

// UnbindStorage disables auto-persistence for this agent.
func (a *Agent) UnbindStorage() {
	a.tree.mu.Lock()
	a.storage = nil
	a.tree.mu.Unlock()
}

// UnbindStorageTree disables auto-persistence for the whole subtree.
func (a *Agent) UnbindStorageTree() {
	a.tree.mu.Lock()
	a.unbindStorageTreeLocked()
	a.tree.mu.Unlock()
}

func (a *Agent) unbindStorageTreeLocked() {
	a.storage = nil
	for _, child := range a.children {
		child.unbindStorageTreeLocked()
	}
}

// pendingSave captures a snapshot and its destination while the tree lock
// is held; the actual write happens after release so storage I/O never
// blocks the tree.
type pendingSave struct {
	store Storage
	snap  *AgentSnapshot
}

func (a *Agent) pendingSaveLocked() *pendingSave {
	if a.storage == nil {
		return nil
	}
	return &pendingSave{store: a.storage, snap: a.snapshotLocked()}
}

func commitSaves(saves ...*pendingSave) error {
	for _, s := range saves {
		if s == nil {
			continue
		}
		if err := s.store.SaveAgent(context.Background(), s.snap); err != nil {
			return fmt.Errorf("save holon %s: %w", s.snap.ID, err)
		}
	}
	return nil
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
