package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain message unchanged",
			input:    "connection refused",
			expected: "connection refused",
		},
		{
			name:     "angle brackets removed",
			input:    "<script>alert(1)</script>",
			expected: "scriptalert(1)/script",
		},
		{
			name:     "newlines and carriage returns removed",
			input:    "line one\r\nline two",
			expected: "line oneline two",
		},
		{
			name:     "control characters removed",
			input:    "bell\x07 and del\x7f",
			expected: "bell and del",
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "   spaced out   ",
			expected: "spaced out",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeMessage(tt.input))
		})
	}
}

func TestSanitizeMessageTruncatesAtRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", MaxMessageRunes+50)
	out := SanitizeMessage(long)

	runes := []rune(out)
	assert.Len(t, runes, MaxMessageRunes)
	for _, r := range runes {
		assert.Equal(t, 'é', r)
	}
}

func TestSanitizeMessageIdempotent(t *testing.T) {
	input := "  <weird>\ncontent " + strings.Repeat("x", 600)
	once := SanitizeMessage(input)
	twice := SanitizeMessage(once)
	assert.Equal(t, once, twice)
}

func TestSanitizeMessageIdempotentAtTruncationBoundary(t *testing.T) {
	// The truncation cut lands right after interior whitespace
	input := strings.Repeat("a", MaxMessageRunes-1) + " " + strings.Repeat("b", 200)

	once := SanitizeMessage(input)
	twice := SanitizeMessage(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, once, strings.TrimSpace(once), "no trailing whitespace survives truncation")
	assert.Len(t, []rune(once), MaxMessageRunes-1)
}

func TestSanitizeContext(t *testing.T) {
	in := map[string]interface{}{
		"user_id":        42,
		"api_key":        "sk-1234567890",
		"Authorization":  "Bearer abc",
		"session_cookie": "c=1",
		"request_path":   "/orders",
	}

	out := SanitizeContext(in)

	assert.Equal(t, 42, out["user_id"])
	assert.Equal(t, "/orders", out["request_path"])
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "[REDACTED]", out["session_cookie"])

	// Input map is never modified
	assert.Equal(t, "sk-1234567890", in["api_key"])
}

func TestSanitizeContextNil(t *testing.T) {
	assert.Nil(t, SanitizeContext(nil))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, IsSensitiveKey("password"))
	assert.True(t, IsSensitiveKey("API_KEY"))
	assert.True(t, IsSensitiveKey("refreshToken"))
	assert.False(t, IsSensitiveKey("user_id"))
	assert.False(t, IsSensitiveKey("path"))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "sk-a***", MaskKey("sk-abcdef123"))
	assert.Equal(t, "***", MaskKey("abcd"))
	assert.Equal(t, "***", MaskKey(""))
	assert.Equal(t, 99, MaskKey(99))
}
