// Package b64 decodes the loosely encoded base64 found in subscriptions and
// share links: any alphabet, with or without padding, wrapped across lines.
package b64

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// Decode strips ASCII whitespace and tries the standard alphabet (with
// padding) first, then URL-safe, then both raw (unpadded) variants.
func Decode(s string) ([]byte, error) {
	s = removeSpaceTabCRLF(s)
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DecodeText is Decode plus a UTF-8 check; the BOM is dropped.
func DecodeText(s string) (string, bool) {
	b, err := Decode(s)
	if err != nil || !utf8.Valid(b) {
		return "", false
	}
	return StripBOM(string(b)), true
}

func StripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

func removeSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
