// Package aitokens counts tokens for HUD budgets and telemetry using
// tiktoken encodings.
package aitokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no model is given or the model is unknown.
const DefaultEncoding = "o200k_base"

// modelEncodings maps model families to their tokenizer encoding. Claude
// entries are approximations; Anthropic does not publish its tokenizer.
var modelEncodings = map[string]string{
	"gpt-4o":          "o200k_base",
	"gpt-4o-mini":     "o200k_base",
	"gpt-4-turbo":     "cl100k_base",
	"gpt-4":           "cl100k_base",
	"gpt-3.5-turbo":   "cl100k_base",
	"claude-3-opus":   "cl100k_base",
	"claude-3-sonnet": "cl100k_base",
	"claude-3-haiku":  "cl100k_base",
}

var (
	encoderCache   = make(map[string]*tiktoken.Tiktoken)
	encoderCacheMu sync.RWMutex
)

// EncodingForModel resolves a model name to an encoding name: exact match,
// then longest matching family prefix, then DefaultEncoding.
func EncodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best := ""
	enc := DefaultEncoding
	for family, familyEnc := range modelEncodings {
		if strings.HasPrefix(model, family) && len(family) > len(best) {
			best = family
			enc = familyEnc
		}
	}
	return enc
}

// Encoder returns a cached tiktoken encoder for the given encoding name.
func Encoder(encoding string) (*tiktoken.Tiktoken, error) {
	encoderCacheMu.RLock()
	if enc, ok := encoderCache[encoding]; ok {
		encoderCacheMu.RUnlock()
		return enc, nil
	}
	encoderCacheMu.RUnlock()

	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()

	// Double-check after acquiring write lock
	if enc, ok := encoderCache[encoding]; ok {
		return enc, nil
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	encoderCache[encoding] = enc
	return enc, nil
}

// Count counts tokens in text with the default encoding. When the
// encoding cannot be loaded (tiktoken fetches dictionaries lazily) it
// falls back to a four-bytes-per-token estimate so callers never fail on
// a missing tokenizer.
func Count(text string) int {
	return CountWithEncoding(text, DefaultEncoding)
}

// CountForModel counts tokens in text with the model's encoding.
func CountForModel(text, model string) int {
	return CountWithEncoding(text, EncodingForModel(model))
}

// CountWithEncoding counts tokens with a specific encoding, estimating on
// encoder failure.
func CountWithEncoding(text, encoding string) int {
	enc, err := Encoder(encoding)
	if err != nil {
		return estimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
