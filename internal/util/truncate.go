package util

import (
	"fmt"
	"unicode/utf8"
)

// DefaultLogMaxLen caps backend response bodies echoed into logs and errors (1KB).
const DefaultLogMaxLen = 1024

// TruncateLog shortens s to at most maxLen bytes, noting the original size.
// The cut never splits a UTF-8 sequence.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog for a response body with DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
