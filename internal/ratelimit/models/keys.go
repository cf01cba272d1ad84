package models

import "strings"

// SanitizeKeySegment escapes the key delimiter so a client-controlled segment
// such as an X-Forwarded-For value cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
