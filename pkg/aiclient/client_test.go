package aiclient

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestProviderForModel(t *testing.T) {
	cases := map[string]string{
		"gpt-4o":                   "openai",
		"gpt-4o-mini":              "openai",
		"claude-sonnet-4-20250514": "anthropic",
		"Claude-3-opus":            "anthropic",
		"o4-mini":                  "openai",
	}
	for model, want := range cases {
		if got := ProviderForModel(model); got != want {
			t.Errorf("ProviderForModel(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestForProvider(t *testing.T) {
	log := zerolog.Nop()

	c, err := ForProvider("openai", "", "test-key", "", log)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "openai" {
		t.Errorf("Name() = %q", c.Name())
	}

	c, err = ForProvider("", "claude-sonnet-4-20250514", "test-key", "", log)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "anthropic" {
		t.Errorf("detected Name() = %q", c.Name())
	}

	if _, err := ForProvider("cohere", "", "test-key", "", log); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestForProviderRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAI("", zerolog.Nop()); err == nil {
		t.Error("expected error without API key")
	}
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropic("", zerolog.Nop()); err == nil {
		t.Error("expected error without API key")
	}
}

func TestAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	if _, err := NewOpenAI("", zerolog.Nop()); err != nil {
		t.Errorf("env fallback failed: %v", err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	if _, err := NewAnthropic("", zerolog.Nop()); err != nil {
		t.Errorf("env fallback failed: %v", err)
	}
}

func TestActionResponseSchemaShape(t *testing.T) {
	schema := ActionResponseSchema()
	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}
	if schema["additionalProperties"] != false {
		t.Error("top level must forbid extra properties")
	}
	props := schema["properties"].(map[string]any)
	actions := props["actions"].(map[string]any)
	if actions["type"] != "array" {
		t.Errorf("actions type = %v", actions["type"])
	}
	items := actions["items"].(map[string]any)
	itemProps := items["properties"].(map[string]any)
	if _, ok := itemProps["action"]; !ok {
		t.Error("items missing action property")
	}
	params := itemProps["params"].(map[string]any)
	if params["additionalProperties"] != true {
		t.Error("params must allow arbitrary keys")
	}

	// Strict mode requires the schema itself to serialize cleanly.
	if _, err := json.Marshal(schema); err != nil {
		t.Fatalf("schema not serializable: %v", err)
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if got := maxTokensOrDefault(0); got != DefaultMaxTokens {
		t.Errorf("default = %d", got)
	}
	if got := maxTokensOrDefault(-4); got != DefaultMaxTokens {
		t.Errorf("negative = %d", got)
	}
	if got := maxTokensOrDefault(512); got != 512 {
		t.Errorf("explicit = %d", got)
	}
}
