// Package strings provides small helpers for string sets kept as ordered slices.
package strings

import (
	"slices"
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  b1:9092 ", "b2:9092", "b1:9092", ""})
//	// Returns: []string{"b1:9092", "b2:9092"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// SplitList splits a comma separated setting into a deduplicated list.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, ","))
}

// AddToSet appends v when it is non-empty and not yet present. The returned
// bool reports whether the set changed.
func AddToSet(set []string, v string) ([]string, bool) {
	if v == "" || slices.Contains(set, v) {
		return set, false
	}
	return append(set, v), true
}
