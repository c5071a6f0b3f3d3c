// Package interfaceapi exposes the human side of a holonic system: a
// distinguished interface holon plus an HTTP surface for inspecting and
// steering connected holons.
package interfaceapi

import (
	"sync"

	"github.com/NullCoward/HolonAI/pkg/holon"
)

// Interface is the human-holon bridge. It is itself a holon with the
// all-zeros id, which the scheduler never heartbeats, and it tracks which
// holons are reachable through the HTTP surface.
type Interface struct {
	agent *holon.Agent

	mu        sync.RWMutex
	connected map[string]*holon.Agent
	order     []string
}

// New builds the interface holon with its fixed purpose.
func New() *Interface {
	agent := holon.NewWithID(holon.InterfaceAgentID)
	// Simple keys on a freshly built unbound holon cannot fail.
	_ = agent.PurposeSet("role", "Human-Holon Interface")
	_ = agent.PurposeSet("description", "Bridge between human users and the holonic system")
	return &Interface{
		agent:     agent,
		connected: make(map[string]*holon.Agent),
	}
}

// Agent returns the interface holon itself.
func (i *Interface) Agent() *holon.Agent {
	return i.agent
}

// ConnectHolon makes a holon reachable through the interface.
func (i *Interface) ConnectHolon(a *holon.Agent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.connected[a.ID()]; !ok {
		i.order = append(i.order, a.ID())
	}
	i.connected[a.ID()] = a
}

// ConnectTree connects a holon and every descendant.
func (i *Interface) ConnectTree(root *holon.Agent) {
	i.ConnectHolon(root)
	for _, child := range root.Children() {
		i.ConnectTree(child)
	}
}

// DisconnectHolon removes a holon from the registry, reporting whether it
// was connected. The holon itself is untouched.
func (i *Interface) DisconnectHolon(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.connected[id]; !ok {
		return false
	}
	delete(i.connected, id)
	for idx, oid := range i.order {
		if oid == id {
			i.order = append(i.order[:idx], i.order[idx+1:]...)
			break
		}
	}
	return true
}

// ConnectedHolon returns a connected holon by id, or nil.
func (i *Interface) ConnectedHolon(id string) *holon.Agent {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.connected[id]
}

// ListConnectedHolons summarizes the registry in connection order.
func (i *Interface) ListConnectedHolons() []map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]map[string]any, 0, len(i.order))
	for _, id := range i.order {
		a := i.connected[id]
		out = append(out, map[string]any{
			"id":             a.ID(),
			"token_bank":     a.TokenBank(),
			"children_count": len(a.Children()),
		})
	}
	return out
}
