package aiclient

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go/v3"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"auth_string", errors.New("invalid api key provided"), KindAuthFailed},
		{"auth_status", &openai.Error{StatusCode: 401, Message: "bad key"}, KindAuthFailed},
		{"billing", errors.New("you exceeded your current quota, check billing"), KindBilling},
		{"rate_limit_status", &openai.Error{StatusCode: 429, Message: "slow down"}, KindRateLimited},
		{"rate_limit_string", errors.New("usage limit reached for this model"), KindRateLimited},
		{"overloaded", errors.New(`{"type":"overloaded_error","message":"busy"}`), KindOverloaded},
		{"timeout", errors.New("context deadline exceeded"), KindTimeout},
		{"context", errors.New("prompt is too long: 217779 tokens > 200000 maximum"), KindContextTooLong},
		{"model_not_found", &openai.Error{StatusCode: 404, Message: "no such model"}, KindModelNotFound},
		{"server", &openai.Error{StatusCode: 500, Message: "internal failure"}, KindServerError},
		{"unknown", errors.New("something completely else"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyQuotaIsBillingNotRateLimit(t *testing.T) {
	// "quota exceeded" appears in both pattern sets; billing wins.
	err := errors.New("quota exceeded for this billing period")
	if got := Classify(err); got != KindBilling {
		t.Fatalf("Classify() = %q, want %q", got, KindBilling)
	}
}

func TestClassifyWrappedError(t *testing.T) {
	inner := &openai.Error{StatusCode: 429, Message: "rate limit exceeded"}
	err := fmt.Errorf("heartbeat AI call: %w", inner)
	if got := Classify(err); got != KindRateLimited {
		t.Fatalf("Classify() = %q, want %q", got, KindRateLimited)
	}
}

func TestParseContextLengthOpenAIStyle(t *testing.T) {
	err := &openai.Error{
		StatusCode: 400,
		Message:    "This model's maximum context length is 128000 tokens. However, your messages resulted in 130532 tokens.",
	}
	cle := ParseContextLength(err)
	if cle == nil {
		t.Fatal("expected context length error")
	}
	if cle.ModelMaxTokens != 128000 {
		t.Errorf("ModelMaxTokens = %d, want 128000", cle.ModelMaxTokens)
	}
	if cle.RequestedTokens != 130532 {
		t.Errorf("RequestedTokens = %d, want 130532", cle.RequestedTokens)
	}
}

func TestParseContextLengthAnthropicStyle(t *testing.T) {
	err := errors.New("anthropic completion failed: prompt is too long: 217779 tokens > 200000 maximum")
	cle := ParseContextLength(err)
	if cle == nil {
		t.Fatal("expected context length error")
	}
	if cle.ModelMaxTokens != 200000 {
		t.Errorf("ModelMaxTokens = %d, want 200000", cle.ModelMaxTokens)
	}
	if cle.RequestedTokens != 217779 {
		t.Errorf("RequestedTokens = %d, want 217779", cle.RequestedTokens)
	}
}

func TestParseContextLengthNonContextError(t *testing.T) {
	if cle := ParseContextLength(errors.New("400 Bad Request invalid schema")); cle != nil {
		t.Fatal("expected nil for non-context error")
	}
}

func TestParseContextLengthWrongStatus(t *testing.T) {
	// Context wording on a 5xx is a provider hiccup, not an overflow.
	err := &openai.Error{StatusCode: 500, Message: "maximum context length is 1000 tokens"}
	if cle := ParseContextLength(err); cle != nil {
		t.Fatal("expected nil for 5xx status")
	}
}

func TestParseContextLengthUnwraps(t *testing.T) {
	cle := &ContextLengthError{ModelMaxTokens: 100, RequestedTokens: 200, OriginalError: errors.New("boom")}
	wrapped := fmt.Errorf("outer: %w", cle)
	got := ParseContextLength(wrapped)
	if got == nil || got.ModelMaxTokens != 100 {
		t.Fatalf("expected the wrapped ContextLengthError back, got %+v", got)
	}
	if !errors.Is(wrapped, cle) {
		t.Fatal("expected errors.Is to see through the wrap")
	}
}

func TestHasContextSignal(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"context_length_exceeded", true},
		{"maximum context length is 8192 tokens", true},
		{"prompt is too long", true},
		{"request_too_large", true},
		{"Request Too Large", true},
		{"exceeds model context window", true},
		{"just a normal error", false},
	}
	for _, tt := range tests {
		if got := hasContextSignal(tt.text); got != tt.want {
			t.Errorf("hasContextSignal(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsAuthFailedStringFallback(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"invalid api key provided", true},
		{"incorrect api key", true},
		{"unauthorized access", true},
		{"forbidden: insufficient permissions", true},
		{"no api key found", true},
		{"just a normal error", false},
	}
	for _, tt := range tests {
		if got := isAuthFailed(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isAuthFailed(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
