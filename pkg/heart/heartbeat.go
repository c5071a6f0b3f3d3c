// Package heart drives the heartbeat cycle: it selects due holons,
// snapshots their HUDs into a Heartbeat, submits one combined prompt to
// the AI backend and dispatches the returned actions back onto the tree.
package heart

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/NullCoward/HolonAI/pkg/holon"
)

// Record is one holon's participation in a heartbeat. HUDSent is the
// deep copy taken when the holon was added; later mutations of the holon
// do not alter it.
type Record struct {
	Agent         *holon.Agent
	HUDSent       map[string]any
	ScheduledTime time.Time
	ActionsResult map[string]any
}

// Heartbeat records one full cycle: which holons took part, the prompt
// sent, the raw reply and the per-holon action results. A heartbeat is
// pending until the AI call starts, active while it is in flight and
// complete once the reply arrived (or the call failed).
type Heartbeat struct {
	mu             sync.Mutex
	heartbeatTime  time.Time
	executionTime  time.Time
	completionTime time.Time
	records        []*Record
	fullPrompt     string
	rawResponse    string
	parsed         map[string]any
}

// NewHeartbeat starts an empty cycle stamped with heartbeatTime.
func NewHeartbeat(heartbeatTime time.Time) *Heartbeat {
	return &Heartbeat{heartbeatTime: heartbeatTime}
}

// AddAgent snapshots the holon's HUD into the cycle. A zero
// scheduledTime defaults to the holon's next_heartbeat.
func (hb *Heartbeat) AddAgent(a *holon.Agent, scheduledTime time.Time) {
	if scheduledTime.IsZero() {
		scheduledTime = a.NextHeartbeat()
	}
	rec := &Record{
		Agent:         a,
		HUDSent:       a.HUD(),
		ScheduledTime: scheduledTime,
		ActionsResult: map[string]any{"actions": []any{}},
	}
	hb.mu.Lock()
	hb.records = append(hb.records, rec)
	hb.mu.Unlock()
}

// HeartbeatTime is the second this cycle covers.
func (hb *Heartbeat) HeartbeatTime() time.Time {
	return hb.heartbeatTime
}

// ExecutionTime is when the AI call started, zero while pending.
func (hb *Heartbeat) ExecutionTime() time.Time {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.executionTime
}

// CompletionTime is when the AI call finished, zero until then.
func (hb *Heartbeat) CompletionTime() time.Time {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.completionTime
}

func (hb *Heartbeat) setExecutionTime(t time.Time) {
	hb.mu.Lock()
	hb.executionTime = t
	hb.mu.Unlock()
}

func (hb *Heartbeat) setCompletionTime(t time.Time) {
	hb.mu.Lock()
	hb.completionTime = t
	hb.mu.Unlock()
}

// IsActive reports an in-flight AI call.
func (hb *Heartbeat) IsActive() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return !hb.executionTime.IsZero() && hb.completionTime.IsZero()
}

// IsComplete reports that the AI call has finished.
func (hb *Heartbeat) IsComplete() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return !hb.completionTime.IsZero()
}

// Len is the number of holons in this cycle.
func (hb *Heartbeat) Len() int {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return len(hb.records)
}

// Agents lists the participating holons in addition order.
func (hb *Heartbeat) Agents() []*holon.Agent {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	out := make([]*holon.Agent, 0, len(hb.records))
	for _, rec := range hb.records {
		out = append(out, rec.Agent)
	}
	return out
}

// Records returns the cycle's records. The entries are stable once the
// heartbeat is complete.
func (hb *Heartbeat) Records() []*Record {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	out := make([]*Record, len(hb.records))
	copy(out, hb.records)
	return out
}

// ResultsFor returns the action results and the HUD snapshot for one
// participating holon.
func (hb *Heartbeat) ResultsFor(a *holon.Agent) (map[string]any, map[string]any, error) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	for _, rec := range hb.records {
		if rec.Agent == a {
			return rec.ActionsResult, rec.HUDSent, nil
		}
	}
	return nil, nil, fmt.Errorf("holon %s is not part of this heartbeat", a.ID())
}

const promptInstructions = `You are processing a heartbeat for multiple holons. Each holon has its own purpose, state, and available actions.

For each holon, analyze its state and decide what actions (if any) to take.

Respond with a JSON object where each key is a holon GUID and the value is an object with an "actions" array:

{
  "holon-guid-1": {
    "actions": [
      {"action": "action_name", "params": {"key": "value"}}
    ]
  },
  "holon-guid-2": {
    "actions": []
  }
}

If a holon needs no actions, use an empty actions array.

HOLONS DATA:
`

// BuildPrompt assembles the combined AI prompt: fixed instructions plus
// the JSON of every snapshot annotated with its scheduling info.
func (hb *Heartbeat) BuildPrompt() string {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	holons := make(map[string]any, len(hb.records))
	for _, rec := range hb.records {
		data := make(map[string]any, len(rec.HUDSent)+1)
		for k, v := range rec.HUDSent {
			data[k] = v
		}
		data["_heartbeat_info"] = map[string]any{
			"scheduled_time":   rec.ScheduledTime.UTC().Format(time.RFC3339Nano),
			"active_heartbeat": rec.Agent.ActiveHeartbeatInfo(),
		}
		holons[rec.Agent.ID()] = data
	}

	combined := map[string]any{
		"heartbeat_time": hb.heartbeatTime.UTC().Format(time.RFC3339Nano),
		"execution_time": nil,
		"holons":         holons,
	}
	if !hb.executionTime.IsZero() {
		combined["execution_time"] = hb.executionTime.UTC().Format(time.RFC3339Nano)
	}

	payload, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		payload = []byte("{}")
	}
	hb.fullPrompt = promptInstructions + string(payload) + "\n"
	return hb.fullPrompt
}

// FullPrompt is the prompt built by the last BuildPrompt call.
func (hb *Heartbeat) FullPrompt() string {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.fullPrompt
}

// RawResponse is the unparsed AI reply.
func (hb *Heartbeat) RawResponse() string {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.rawResponse
}

// ParsedResponse is the per-holon map extracted from the reply.
func (hb *Heartbeat) ParsedResponse() map[string]any {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.parsed
}

// ProcessResponse parses the reply and distributes per-holon results to
// the records. Holons absent from the reply get an empty actions list.
// An unparseable reply leaves every holon with empty actions and returns
// ErrInvalidReply.
func (hb *Heartbeat) ProcessResponse(text string) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	hb.rawResponse = text
	soleID := ""
	if len(hb.records) == 1 {
		soleID = hb.records[0].Agent.ID()
	}
	parsed, err := parseReply(text, soleID)
	hb.parsed = parsed

	for _, rec := range hb.records {
		result, ok := parsed[rec.Agent.ID()].(map[string]any)
		if !ok {
			result = map[string]any{"actions": []any{}}
		}
		if _, ok := result["actions"]; !ok {
			result["actions"] = []any{}
		}
		rec.ActionsResult = result
	}
	return err
}

// Dispatch applies every record's action results to its holon and
// returns the outcomes keyed by holon id. Per-action failures are
// carried in the outcomes; the returned error covers persistence only.
func (hb *Heartbeat) Dispatch() (map[string][]holon.ActionOutcome, error) {
	hb.mu.Lock()
	records := make([]*Record, len(hb.records))
	copy(records, hb.records)
	heartbeatTime := hb.heartbeatTime
	hb.mu.Unlock()

	results := make(map[string][]holon.ActionOutcome, len(records))
	var firstErr error
	for _, rec := range records {
		outcomes, err := rec.Agent.ApplyActions(actionCalls(rec.ActionsResult), heartbeatTime)
		results[rec.Agent.ID()] = outcomes
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

// actionCalls converts one actions_result into dispatchable calls.
// Malformed entries become calls with an empty action name, so dispatch
// reports them instead of dropping them silently.
func actionCalls(result map[string]any) []holon.ActionCall {
	raw, _ := result["actions"].([]any)
	calls := make([]holon.ActionCall, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			calls = append(calls, holon.ActionCall{})
			continue
		}
		name, _ := entry["action"].(string)
		params, _ := entry["params"].(map[string]any)
		calls = append(calls, holon.ActionCall{Action: name, Params: params})
	}
	return calls
}
