package core

import (
	"strings"
)

// MaxMessageRunes caps sanitized messages at 500 code points
const MaxMessageRunes = 500

// sensitiveKeyFragments are matched case-insensitively against context
// keys. Substring match on purpose: it catches compound names like
// api_key and session_cookie.
var sensitiveKeyFragments = []string{
	"password",
	"token",
	"secret",
	"key",
	"auth",
	"authorization",
	"cookie",
}

// SanitizeMessage removes angle brackets, CR/LF and control code points
// from s, trims surrounding whitespace and truncates the result to
// MaxMessageRunes code points. Idempotent.
func SanitizeMessage(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case r < 0x20:
			return -1
		case r == 0x7f:
			return -1
		}
		return r
	}, s)

	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > MaxMessageRunes {
		// The cut can land after interior whitespace; trim again so
		// the result is a fixed point of this function
		cleaned = strings.TrimSpace(string(runes[:MaxMessageRunes]))
	}
	return cleaned
}

// SanitizeContext returns a shallow copy of m with the values of
// secret-bearing keys replaced by the literal "[REDACTED]". The input
// map is never modified. Idempotent.
func SanitizeContext(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

// IsSensitiveKey reports whether a context key names a credential or
// other secret
func IsSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// MaskKey masks a credential for logging. Strings longer than four
// runes keep their first four, shorter strings collapse to "***".
// Non-string values pass through unchanged.
func MaskKey(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}

	runes := []rune(s)
	if len(runes) <= 4 {
		return "***"
	}
	return string(runes[:4]) + "***"
}
