package holon

import (
	"encoding/json"

	"github.com/NullCoward/HolonAI/pkg/aitokens"
)

// HUD renders the AI-facing view of the agent: resolved purpose and self
// (omitted when empty), the action registry, and hud_tokens with the
// token cost of the view itself. Every container in the result is freshly
// built, so callers can hold it across later mutations.
func (a *Agent) HUD() map[string]any {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.hudLocked()
}

func (a *Agent) hudLocked() map[string]any {
	hud := make(map[string]any)
	if len(a.purpose) > 0 {
		if purpose, ok := resolveValue(a.purpose).(map[string]any); ok && len(purpose) > 0 {
			hud["purpose"] = purpose
		}
	}
	if len(a.selfState) > 0 {
		if selfState, ok := resolveValue(a.selfState).(map[string]any); ok && len(selfState) > 0 {
			hud["self"] = selfState
		}
	}
	if a.actions.Len() > 0 {
		entries := make([]any, 0, a.actions.Len())
		for _, act := range a.actions.All() {
			entries = append(entries, actionHUD(act))
		}
		hud["actions"] = entries
	}
	// hud_tokens counts the view as serialized so far, without itself.
	hud["hud_tokens"] = hudTokens(hud)
	return hud
}

// actionHUD serializes one action for AI consumption.
func actionHUD(act *Action) map[string]any {
	entry := map[string]any{"name": act.Name}
	if act.Purpose != "" {
		entry["purpose"] = act.Purpose
	}
	params := make([]any, 0, len(act.Signature.Params))
	for _, p := range act.Signature.Params {
		pm := map[string]any{"name": p.Name}
		if p.Type != "" {
			pm["type"] = p.Type
		}
		if p.HasDefault {
			pm["default"] = p.Default
		}
		params = append(params, pm)
	}
	entry["parameters"] = params
	if act.Signature.ReturnType != "" {
		entry["returns"] = act.Signature.ReturnType
	}
	if act.Signature.Doc != "" {
		entry["docstring"] = act.Signature.Doc
	}
	return entry
}

func hudTokens(hud map[string]any) int {
	payload, err := json.Marshal(hud)
	if err != nil {
		return 0
	}
	return aitokens.Count(string(payload))
}
