// Package strings holds small helpers for list-valued settings.
package strings

import "strings"

// DedupeAndTrim trims each value and drops empties and repeats, keeping the
// first occurrence in order.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SplitList splits raw on sep and cleans the parts with DedupeAndTrim. An
// empty input yields nil.
func SplitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := DedupeAndTrim(strings.Split(raw, sep))
	if len(out) == 0 {
		return nil
	}
	return out
}
