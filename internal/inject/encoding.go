package inject

import (
	"encoding/base64"
	"regexp"
)

var base64RunRegex = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)

// longestBase64Run returns the longest base64-looking substring of s.
func longestBase64Run(s string) string {
	matches := base64RunRegex.FindAllString(s, -1)
	longest := ""
	for _, m := range matches {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return longest
}

// tryBase64Decode decodes run as standard or raw base64, returning "" if it
// does not decode to printable text.
func tryBase64Decode(run string) string {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if decoded, err := enc.DecodeString(run); err == nil && isPrintable(decoded) {
			return string(decoded)
		}
	}
	return ""
}

func isPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x09 || (c > 0x0D && c < 0x20) {
			return false
		}
	}
	return true
}
