package holon

import "time"

// HeartbeatCandidate is one agent's scheduling state captured during a
// tree walk. The scheduler filters candidates into the due set without
// touching the tree again.
type HeartbeatCandidate struct {
	Agent         *Agent
	NextHeartbeat time.Time
	TokenBank     int64
	Active        bool
}

// CollectHeartbeats walks the subtree depth-first and returns every
// agent's scheduling state in one consistent snapshot.
func (a *Agent) CollectHeartbeats() []HeartbeatCandidate {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	var out []HeartbeatCandidate
	a.collectHeartbeatsLocked(&out)
	return out
}

func (a *Agent) collectHeartbeatsLocked(out *[]HeartbeatCandidate) {
	*out = append(*out, HeartbeatCandidate{
		Agent:         a,
		NextHeartbeat: a.nextHeartbeat,
		TokenBank:     a.tokenBank,
		Active:        a.active != nil,
	})
	for _, child := range a.children {
		child.collectHeartbeatsLocked(out)
	}
}

// MarkHeartbeatStarted claims the agent for an in-flight heartbeat.
// Returns false when a previous heartbeat has not completed, so two
// selection passes can never double-schedule the same agent.
func (a *Agent) MarkHeartbeatStarted(scheduled time.Time) bool {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	if a.active != nil {
		return false
	}
	a.active = &heartbeatMarker{scheduled: scheduled, started: time.Now().UTC()}
	return true
}

// ClearActiveHeartbeat releases the in-flight claim without dispatching.
// The scheduler uses it when a tick fails after selection.
func (a *Agent) ClearActiveHeartbeat() {
	a.tree.mu.Lock()
	a.active = nil
	a.tree.mu.Unlock()
}

// HasActiveHeartbeat reports whether a heartbeat is in flight.
func (a *Agent) HasActiveHeartbeat() bool {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	return a.active != nil
}

// ActiveHeartbeatInfo returns the prompt-facing view of the in-flight
// heartbeat, nil when idle.
func (a *Agent) ActiveHeartbeatInfo() map[string]any {
	a.tree.mu.Lock()
	defer a.tree.mu.Unlock()
	if a.active == nil {
		return nil
	}
	return map[string]any{
		"scheduled_time": isoTime(a.active.scheduled),
		"started_at":     isoTime(a.active.started),
	}
}

// ActionCall is one action invocation from an AI reply.
type ActionCall struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// ActionOutcome records one dispatched call of a heartbeat.
type ActionOutcome struct {
	Action   string
	Result   any
	Err      error
	Duration time.Duration
}

// ApplyActions advances the heartbeat clocks to heartbeatTime and
// dispatches the calls in order. A failing call is recorded in its outcome
// and later calls still run. The active-heartbeat marker clears once every
// call has finished, then the agent saves.
func (a *Agent) ApplyActions(calls []ActionCall, heartbeatTime time.Time) ([]ActionOutcome, error) {
	a.tree.mu.Lock()
	a.lastHeartbeat = heartbeatTime
	a.nextHeartbeat = heartbeatTime.Add(time.Duration(a.heartRateSecs) * time.Second)
	a.tree.mu.Unlock()

	outcomes := make([]ActionOutcome, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		result, err := a.Dispatch(call.Action, call.Params)
		outcomes = append(outcomes, ActionOutcome{
			Action:   call.Action,
			Result:   result,
			Err:      err,
			Duration: time.Since(start),
		})
	}

	a.tree.mu.Lock()
	a.active = nil
	save := a.pendingSaveLocked()
	a.tree.mu.Unlock()
	return outcomes, commitSaves(save)
}
