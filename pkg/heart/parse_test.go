package heart

import (
	"errors"
	"testing"
)

func TestParseReplyPerHolonMap(t *testing.T) {
	reply := `{"h1": {"actions": [{"action": "sleep", "params": {"seconds": 5}}]}, "h2": {"actions": []}}`
	parsed, err := parseReply(reply, "")
	if err != nil {
		t.Fatal(err)
	}
	h1 := parsed["h1"].(map[string]any)
	actions := h1["actions"].([]any)
	if len(actions) != 1 {
		t.Fatalf("h1 actions = %v", actions)
	}
	if actions[0].(map[string]any)["action"] != "sleep" {
		t.Errorf("action = %v", actions[0])
	}
}

func TestParseReplyBareActions(t *testing.T) {
	reply := `{"actions": [{"action": "knowledge_set", "params": {"path": "x", "value": 1}}]}`
	parsed, err := parseReply(reply, "only-holon")
	if err != nil {
		t.Fatal(err)
	}
	result, ok := parsed["only-holon"].(map[string]any)
	if !ok {
		t.Fatalf("parsed = %v", parsed)
	}
	if len(result["actions"].([]any)) != 1 {
		t.Errorf("actions = %v", result["actions"])
	}

	// Ambiguous for multi-holon beats.
	parsed, err = parseReply(reply, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 0 {
		t.Errorf("multi-holon bare shape should yield nothing, got %v", parsed)
	}
}

func TestParseReplySingleAction(t *testing.T) {
	reply := `{"action": "sleep", "params": {"seconds": 30}}`
	parsed, err := parseReply(reply, "h9")
	if err != nil {
		t.Fatal(err)
	}
	actions := parsed["h9"].(map[string]any)["actions"].([]any)
	if len(actions) != 1 || actions[0].(map[string]any)["action"] != "sleep" {
		t.Errorf("actions = %v", actions)
	}
}

func TestParseReplyCodeFence(t *testing.T) {
	reply := "Here is my analysis:\n```json\n{\"h1\": {\"actions\": []}}\n```\nDone."
	parsed, err := parseReply(reply, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed["h1"]; !ok {
		t.Errorf("parsed = %v", parsed)
	}
}

func TestParseReplyLeadingProse(t *testing.T) {
	reply := `The holon should wait. {"h1": {"actions": [{"action": "sleep", "params": {"seconds": 10}}]}} That is all.`
	parsed, err := parseReply(reply, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed["h1"]; !ok {
		t.Errorf("parsed = %v", parsed)
	}
}

func TestParseReplyBracesInsideStrings(t *testing.T) {
	reply := `{"h1": {"actions": [{"action": "knowledge_set", "params": {"path": "note", "value": "use {curly} braces"}}]}} trailing`
	parsed, err := parseReply(reply, "")
	if err != nil {
		t.Fatal(err)
	}
	actions := parsed["h1"].(map[string]any)["actions"].([]any)
	params := actions[0].(map[string]any)["params"].(map[string]any)
	if params["value"] != "use {curly} braces" {
		t.Errorf("value = %v", params["value"])
	}
}

func TestParseReplyJSON5Fallback(t *testing.T) {
	// Trailing comma is invalid JSON but fine for the tolerant pass.
	reply := `{"h1": {"actions": [],},}`
	parsed, err := parseReply(reply, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed["h1"]; !ok {
		t.Errorf("parsed = %v", parsed)
	}
}

func TestParseReplyGarbage(t *testing.T) {
	parsed, err := parseReply("I cannot help with that.", "h1")
	if !errors.Is(err, ErrInvalidReply) {
		t.Fatalf("err = %v, want ErrInvalidReply", err)
	}
	if len(parsed) != 0 {
		t.Errorf("parsed = %v, want empty", parsed)
	}

	if _, err := parseReply("{never closed", "h1"); !errors.Is(err, ErrInvalidReply) {
		t.Errorf("unbalanced err = %v", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{`prefix {"a": {"b": 2}} suffix`, `{"a": {"b": 2}}`},
		{`{"s": "}"}`, `{"s": "}"}`},
		{`{"s": "\""} x`, `{"s": "\""}`},
		{"no object here", ""},
		{"{unclosed", ""},
	}
	for _, tc := range cases {
		if got := extractJSONObject(tc.in); got != tc.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
