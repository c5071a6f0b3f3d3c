package holon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Children returns the direct children in attach order.
func (a *Agent) Children() []*Agent {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	out := make([]*Agent, len(a.children))
	copy(out, a.children)
	return out
}

// GetChild returns the direct child with the given id, nil when absent.
func (a *Agent) GetChild(childID string) *Agent {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.getChildLocked(childID)
}

func (a *Agent) getChildLocked(childID string) *Agent {
	for _, child := range a.children {
		if child.id == childID {
			return child
		}
	}
	return nil
}

// CreateChild appends a fresh child agent. A bound storage propagates to
// the child, which is saved before the parent.
func (a *Agent) CreateChild() (*Agent, error) {
	a.tree.mu.Lock()
	child := newAgent(a.tree, a, uuid.New().String())
	a.children = append(a.children, child)
	saves := a.childCreationSavesLocked(child)
	a.tree.mu.Unlock()
	return child, commitSaves(saves...)
}

// CreateChildFrom appends a child copied from a template agent anywhere in
// this tree. Static purpose/self leaves, knowledge and the token bank are
// copied; dynamic leaves are not carried over, so the child's well-known
// self bindings report the child, not the template.
func (a *Agent) CreateChildFrom(templateID string) (*Agent, error) {
	a.tree.mu.Lock()
	template := a.findInTreeLocked(templateID)
	if template == nil {
		a.tree.mu.Unlock()
		return nil, fmt.Errorf("template %q: %w", templateID, ErrTemplateNotFound)
	}
	child := newAgent(a.tree, a, uuid.New().String())
	if purpose, ok := dropDynamic(template.purpose); ok {
		child.purpose = purpose.(map[string]any)
	}
	if selfState, ok := dropDynamic(template.selfState); ok {
		for k, v := range selfState.(map[string]any) {
			child.selfState[k] = v
		}
	}
	child.knowledge = deepCopyValue(template.knowledge).(map[string]any)
	child.tokenBank = template.tokenBank
	a.children = append(a.children, child)
	saves := a.childCreationSavesLocked(child)
	a.tree.mu.Unlock()
	return child, commitSaves(saves...)
}

func (a *Agent) childCreationSavesLocked(child *Agent) []*pendingSave {
	var saves []*pendingSave
	if a.storage != nil {
		child.storage = a.storage
		saves = append(saves, child.pendingSaveLocked())
	}
	saves = append(saves, a.pendingSaveLocked())
	return saves
}

// RemoveChild detaches the child with the given id together with its
// subtree. Storage rows of every removed agent are deleted. Returns false
// when no direct child matches.
func (a *Agent) RemoveChild(childID string) (bool, error) {
	a.tree.mu.Lock()
	idx := -1
	for i, child := range a.children {
		if child.id == childID {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.tree.mu.Unlock()
		return false, nil
	}
	removed := a.children[idx]
	a.children = append(a.children[:idx], a.children[idx+1:]...)
	removed.parent = nil
	var deletes []pendingDelete
	removed.collectDeletesLocked(&deletes)
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()

	var firstErr error
	for _, del := range deletes {
		if err := del.store.DeleteAgent(context.Background(), del.id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete holon %s: %w", del.id, err)
		}
	}
	if err := commitSaves(save); err != nil && firstErr == nil {
		firstErr = err
	}
	return true, firstErr
}

type pendingDelete struct {
	store Storage
	id    string
}

func (a *Agent) collectDeletesLocked(out *[]pendingDelete) {
	if a.storage != nil {
		*out = append(*out, pendingDelete{store: a.storage, id: a.id})
		a.storage = nil
	}
	for _, child := range a.children {
		child.collectDeletesLocked(out)
	}
}

// Root returns the top of this agent's tree.
func (a *Agent) Root() *Agent {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	root := a
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// FindInTree resolves an id anywhere in this agent's tree, walking up to
// the root and then depth-first.
func (a *Agent) FindInTree(id string) *Agent {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.findInTreeLocked(id)
}

func (a *Agent) findInTreeLocked(id string) *Agent {
	root := a
	for root.parent != nil {
		root = root.parent
	}
	return root.findInSubtreeLocked(id)
}

func (a *Agent) findInSubtreeLocked(id string) *Agent {
	if a.id == id {
		return a
	}
	for _, child := range a.children {
		if found := child.findInSubtreeLocked(id); found != nil {
			return found
		}
	}
	return nil
}

// ChildPurposeSet sets a purpose value on a direct child.
func (a *Agent) ChildPurposeSet(childID, path string, value any) error {
	child := a.GetChild(childID)
	if child == nil {
		return fmt.Errorf("child %q: %w", childID, ErrChildNotFound)
	}
	return child.PurposeSet(path, value)
}

// ChildPurposeClear drops every purpose binding of a direct child.
func (a *Agent) ChildPurposeClear(childID string) error {
	child := a.GetChild(childID)
	if child == nil {
		return fmt.Errorf("child %q: %w", childID, ErrChildNotFound)
	}
	return child.PurposeClear()
}

// ChildPurposeGet reads a direct child's resolved purpose at path.
func (a *Agent) ChildPurposeGet(childID, path string) (any, error) {
	child := a.GetChild(childID)
	if child == nil {
		return nil, fmt.Errorf("child %q: %w", childID, ErrChildNotFound)
	}
	return child.PurposeGet(path)
}

// ChildSetNextHeartbeat reschedules a direct child's next wake.
func (a *Agent) ChildSetNextHeartbeat(childID string, next time.Time) error {
	child := a.GetChild(childID)
	if child == nil {
		return fmt.Errorf("child %q: %w", childID, ErrChildNotFound)
	}
	return child.SetNextHeartbeat(next)
}

// ChildDelayHeartbeat delays a direct child's next wake.
func (a *Agent) ChildDelayHeartbeat(childID string, seconds int64) error {
	child := a.GetChild(childID)
	if child == nil {
		return fmt.Errorf("child %q: %w", childID, ErrChildNotFound)
	}
	return child.DelayHeartbeat(seconds)
}

// ChildSetHeartRate changes a direct child's heartbeat cadence.
func (a *Agent) ChildSetHeartRate(childID string, secs int) error {
	child := a.GetChild(childID)
	if child == nil {
		return fmt.Errorf("child %q: %w", childID, ErrChildNotFound)
	}
	return child.SetHeartRateSecs(secs)
}
