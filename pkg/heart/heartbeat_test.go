package heart

import (
	"strings"
	"testing"
	"time"

	"github.com/NullCoward/HolonAI/pkg/holon"
)

func TestHeartbeatStates(t *testing.T) {
	hb := NewHeartbeat(time.Now().UTC())
	if hb.IsActive() || hb.IsComplete() {
		t.Fatal("fresh heartbeat should be pending")
	}
	hb.setExecutionTime(time.Now().UTC())
	if !hb.IsActive() || hb.IsComplete() {
		t.Fatal("heartbeat should be active after execution starts")
	}
	hb.setCompletionTime(time.Now().UTC())
	if hb.IsActive() || !hb.IsComplete() {
		t.Fatal("heartbeat should be complete")
	}
}

func TestAddAgentSnapshotsHUD(t *testing.T) {
	a := holon.New()
	if err := a.KnowledgeSet("counter", 1); err != nil {
		t.Fatal(err)
	}
	hb := NewHeartbeat(time.Now().UTC())
	hb.AddAgent(a, time.Time{})

	// Mutations after add must not leak into the captured HUD.
	if err := a.KnowledgeSet("counter", 2); err != nil {
		t.Fatal(err)
	}

	recs := hb.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs[0].ScheduledTime.IsZero() {
		t.Error("scheduled time not defaulted")
	}
	selfState := recs[0].HUDSent["self"].(map[string]any)
	knowledge := selfState["knowledge"].(map[string]any)
	if knowledge["counter"] != 1 {
		t.Errorf("snapshot counter = %v, want the value at add time", knowledge["counter"])
	}
}

func TestBuildPrompt(t *testing.T) {
	a := holon.New()
	if err := a.PurposeSet("role", "scout"); err != nil {
		t.Fatal(err)
	}
	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hb := NewHeartbeat(scheduled)
	hb.AddAgent(a, scheduled)
	hb.setExecutionTime(scheduled.Add(100 * time.Millisecond))

	prompt := hb.BuildPrompt()
	if !strings.HasPrefix(prompt, "You are processing a heartbeat for multiple holons.") {
		t.Errorf("prompt starts with %q", prompt[:60])
	}
	for _, want := range []string{
		"HOLONS DATA:",
		a.ID(),
		`"_heartbeat_info"`,
		`"scheduled_time"`,
		`"heartbeat_time"`,
		`"execution_time"`,
		`"scout"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if hb.FullPrompt() != prompt {
		t.Error("FullPrompt differs from BuildPrompt result")
	}
}

func TestProcessResponseDistributes(t *testing.T) {
	a := holon.New()
	b := holon.New()
	hb := NewHeartbeat(time.Now().UTC())
	hb.AddAgent(a, time.Time{})
	hb.AddAgent(b, time.Time{})

	reply := `{"` + a.ID() + `": {"actions": [{"action": "sleep", "params": {"seconds": 3}}]}}`
	if err := hb.ProcessResponse(reply); err != nil {
		t.Fatal(err)
	}
	if hb.RawResponse() != reply {
		t.Error("raw response not captured")
	}

	aResult, _, err := hb.ResultsFor(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(aResult["actions"].([]any)) != 1 {
		t.Errorf("a actions = %v", aResult["actions"])
	}
	// b is absent from the reply and defaults to no actions.
	bResult, _, err := hb.ResultsFor(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(bResult["actions"].([]any)) != 0 {
		t.Errorf("b actions = %v", bResult["actions"])
	}
}

func TestProcessResponseGarbage(t *testing.T) {
	a := holon.New()
	hb := NewHeartbeat(time.Now().UTC())
	hb.AddAgent(a, time.Time{})

	if err := hb.ProcessResponse("total nonsense"); err == nil {
		t.Fatal("expected parse error")
	}
	result, _, err := hb.ResultsFor(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(result["actions"].([]any)) != 0 {
		t.Errorf("garbage reply should leave empty actions, got %v", result["actions"])
	}
}

func TestResultsForUnknownAgent(t *testing.T) {
	hb := NewHeartbeat(time.Now().UTC())
	outsider := holon.New()
	if _, _, err := hb.ResultsFor(outsider); err == nil {
		t.Fatal("expected error for non-participant")
	}
}

func TestDispatchAppliesActions(t *testing.T) {
	a := holon.New()
	if !a.MarkHeartbeatStarted(a.NextHeartbeat()) {
		t.Fatal("claim refused")
	}
	beatTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hb := NewHeartbeat(beatTime)
	hb.AddAgent(a, time.Time{})

	reply := `{"` + a.ID() + `": {"actions": [{"action": "knowledge_set", "params": {"path": "seen", "value": true}}]}}`
	if err := hb.ProcessResponse(reply); err != nil {
		t.Fatal(err)
	}
	outcomes, err := hb.Dispatch()
	if err != nil {
		t.Fatal(err)
	}
	outs := outcomes[a.ID()]
	if len(outs) != 1 || outs[0].Err != nil {
		t.Fatalf("outcomes = %v", outs)
	}
	v, err := a.KnowledgeGet("seen")
	if err != nil || v != true {
		t.Errorf("knowledge = %v, %v", v, err)
	}
	if !a.LastHeartbeat().Equal(beatTime) {
		t.Errorf("last heartbeat = %v", a.LastHeartbeat())
	}
	if a.HasActiveHeartbeat() {
		t.Error("marker survived dispatch")
	}
}

func TestActionCallsMalformedEntries(t *testing.T) {
	calls := actionCalls(map[string]any{"actions": []any{
		map[string]any{"action": "sleep", "params": map[string]any{"seconds": float64(1)}},
		"not an object",
		map[string]any{"params": map[string]any{}},
	}})
	if len(calls) != 3 {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0].Action != "sleep" {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	// Malformed entries keep their slot with an empty name so dispatch
	// reports them.
	if calls[1].Action != "" || calls[2].Action != "" {
		t.Errorf("malformed calls = %+v", calls[1:])
	}
}
