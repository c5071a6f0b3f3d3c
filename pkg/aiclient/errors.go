package aiclient

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v3"
)

// Kind buckets a Send failure for logs and telemetry.
type Kind string

const (
	KindBilling        Kind = "billing"
	KindOverloaded     Kind = "overloaded"
	KindTimeout        Kind = "timeout"
	KindRateLimited    Kind = "rate_limited"
	KindAuthFailed     Kind = "auth_failed"
	KindContextTooLong Kind = "context_too_long"
	KindModelNotFound  Kind = "model_not_found"
	KindServerError    Kind = "server_error"
	KindUnknown        Kind = "unknown"
)

// Classify maps a transport error onto a Kind. Structured openai-go
// errors are inspected by status code; everything else, including
// wrapped Anthropic failures, is matched on message text. Returns ""
// for nil.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	// Billing and overload signals overlap the rate-limit patterns, so
	// they have to win.
	switch {
	case isBilling(err):
		return KindBilling
	case isOverloaded(err):
		return KindOverloaded
	case isTimeout(err):
		return KindTimeout
	case isRateLimited(err):
		return KindRateLimited
	case isAuthFailed(err):
		return KindAuthFailed
	case ParseContextLength(err) != nil:
		return KindContextTooLong
	case isModelNotFound(err):
		return KindModelNotFound
	case isServerError(err):
		return KindServerError
	default:
		return KindUnknown
	}
}

// ContextLengthError carries the token counts parsed out of a context
// window overflow message.
type ContextLengthError struct {
	ModelMaxTokens  int
	RequestedTokens int
	OriginalError   error
}

func (e *ContextLengthError) Error() string {
	return e.OriginalError.Error()
}

func (e *ContextLengthError) Unwrap() error {
	return e.OriginalError
}

var (
	maxContextPattern     = regexp.MustCompile(`maximum context length is (\d+) tokens`)
	resultedTokensPattern = regexp.MustCompile(`resulted in (\d+) tokens`)
	promptTooLongPattern  = regexp.MustCompile(`prompt is too long:\s*(\d+)\s*tokens\s*>\s*(\d+)\s*maximum`)
	tokenPairPattern      = regexp.MustCompile(`(\d+)\s*tokens\s*>\s*(\d+)\s*(?:maximum|max)`)
)

// ParseContextLength reports whether err is a context window overflow
// and extracts the limits from the message. Both the OpenAI wording
// ("maximum context length is N tokens ... resulted in M tokens") and
// the Anthropic wording ("prompt is too long: M tokens > N maximum")
// are understood.
func ParseContextLength(err error) *ContextLengthError {
	if err == nil {
		return nil
	}
	var cle *ContextLengthError
	if errors.As(err, &cle) {
		return cle
	}

	var sources []string
	if text := errorText(err); text != "" {
		sources = append(sources, text)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			sources = append(sources, apiErr.Message)
		}
		if raw := apiErr.RawJSON(); raw != "" {
			sources = append(sources, raw)
		}
	}

	matched := false
	maxTokens := 0
	requested := 0
	for _, source := range sources {
		if !hasContextSignal(source) {
			continue
		}
		matched = true
		m, r := parseTokenCounts(source)
		if m > 0 {
			maxTokens = m
		}
		if r > 0 {
			requested = r
		}
	}
	if !matched {
		return nil
	}
	// Overflows surface as 400 or 413; other status codes with similar
	// wording are not context errors.
	if apiErr != nil && apiErr.StatusCode != 0 && apiErr.StatusCode != 400 && apiErr.StatusCode != 413 {
		return nil
	}

	return &ContextLengthError{
		ModelMaxTokens:  maxTokens,
		RequestedTokens: requested,
		OriginalError:   err,
	}
}

func hasContextSignal(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "request_too_large") ||
		strings.Contains(lower, "request too large") ||
		strings.Contains(lower, "exceeds model context window")
}

func parseTokenCounts(text string) (maxTokens, requested int) {
	lower := strings.ToLower(text)
	if m := maxContextPattern.FindStringSubmatch(lower); len(m) > 1 {
		maxTokens, _ = strconv.Atoi(m[1])
	}
	if m := resultedTokensPattern.FindStringSubmatch(lower); len(m) > 1 {
		requested, _ = strconv.Atoi(m[1])
	}
	if m := promptTooLongPattern.FindStringSubmatch(lower); len(m) > 2 {
		requested, _ = strconv.Atoi(m[1])
		maxTokens, _ = strconv.Atoi(m[2])
	}
	if (maxTokens == 0 || requested == 0) && strings.Contains(lower, "prompt is too long") {
		if m := tokenPairPattern.FindStringSubmatch(lower); len(m) > 2 {
			requested, _ = strconv.Atoi(m[1])
			maxTokens, _ = strconv.Atoi(m[2])
		}
	}
	return maxTokens, requested
}

// errorText guards against Error() implementations that panic on
// partially populated SDK errors.
func errorText(err error) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return err.Error()
}

func containsAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(errorText(err))
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isBilling(err error) bool {
	return containsAny(err, []string{
		"payment required",
		"insufficient credits",
		"credit balance",
		"exceeded your current quota",
		"quota exceeded",
		"billing",
		"resource has been exhausted",
	})
}

func isOverloaded(err error) bool {
	return containsAny(err, []string{
		"overloaded_error",
		"overloaded",
		"resource_exhausted",
		"service unavailable",
		"503",
	})
}

func isTimeout(err error) bool {
	return containsAny(err, []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"408",
		"504",
	})
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Code, "rate_limit_exceeded") || apiErr.StatusCode == 429 {
			return true
		}
	}
	return containsAny(err, []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"usage limit",
		"429",
	})
}

func isAuthFailed(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return true
		}
	}
	return containsAny(err, []string{
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"unauthorized",
		"forbidden",
		"access denied",
		"no api key found",
	})
}

func isModelNotFound(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return containsAny(err, []string{"model_not_found", "model not found"})
}

func isServerError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Code, "server_error") {
			return true
		}
		return apiErr.StatusCode >= 500
	}
	return false
}
