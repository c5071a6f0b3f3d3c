package heart

import (
	"encoding/json"
	"errors"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// ErrInvalidReply marks a reply no parsing strategy could decode. The
// heartbeat still completes; every holon just gets an empty actions list.
var ErrInvalidReply = errors.New("unparseable AI reply")

// parseReply decodes an AI reply into the per-holon result map. Three
// shapes are accepted: the per-holon map the prompt asks for, a bare
// {"actions": [...]} object, or a single {"action": ...} call. The last
// two only bind when the heartbeat covers exactly one holon (soleID
// non-empty); for multi-holon beats they are ambiguous and ignored.
func parseReply(text string, soleID string) (map[string]any, error) {
	data, err := decodeReply(text)
	if err != nil {
		return map[string]any{}, err
	}
	return normalizeReply(data, soleID), nil
}

func normalizeReply(data map[string]any, soleID string) map[string]any {
	if actions, ok := data["actions"]; ok {
		if soleID == "" {
			return map[string]any{}
		}
		return map[string]any{soleID: map[string]any{"actions": actions}}
	}
	if _, ok := data["action"]; ok {
		if soleID == "" {
			return map[string]any{}
		}
		return map[string]any{soleID: map[string]any{"actions": []any{data}}}
	}
	return data
}

// decodeReply tries strict JSON on the whole text, then strict and
// json5 on the outermost balanced object it can find.
func decodeReply(text string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err == nil {
		return data, nil
	}
	candidate := extractJSONObject(stripCodeFences(text))
	if candidate == "" {
		return nil, ErrInvalidReply
	}
	if err := json.Unmarshal([]byte(candidate), &data); err == nil {
		return data, nil
	}
	if err := json5.Unmarshal([]byte(candidate), &data); err == nil {
		return data, nil
	}
	return nil, ErrInvalidReply
}

// stripCodeFences cuts a reply down to the body of its first ``` fence,
// if it has one.
func stripCodeFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the language tag line (```json etc).
		if firstLine := strings.TrimSpace(body[:nl]); firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// extractJSONObject returns the outermost balanced {...} substring,
// tracking strings and escapes so braces inside values do not confuse
// the depth count.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
