package pty

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// decodeLossy converts raw terminal output to text, replacing malformed
// UTF-8 with U+FFFD. It never fails.
func decodeLossy(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}
