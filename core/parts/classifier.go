// Package parts derives the short labels shown next to a piece for each recorded voice part.
package parts

import (
	"strings"
	"unicode/utf8"
)

// Classify turns a free-text part name into a short display label.
//
// Rules, first match wins (matching is case-insensitive):
//
//	"soprano" and "alto" both present  -> "S/A"
//	"tenor" and "bass" both present    -> "T/B"
//	exactly "choir"                    -> "Ch"
//	contains "/"                       -> initial of each segment, joined by "/"
//	otherwise                          -> initial of the trimmed text
//
// Blank input yields "". Empty slash segments are skipped, so "Violin//Cello"
// gives "V/C" and "/" gives "".
func Classify(part string) string {
	if strings.TrimSpace(part) == "" {
		return ""
	}

	lower := strings.ToLower(part)
	switch {
	case strings.Contains(lower, "soprano") && strings.Contains(lower, "alto"):
		return "S/A"
	case strings.Contains(lower, "tenor") && strings.Contains(lower, "bass"):
		return "T/B"
	case lower == "choir":
		return "Ch"
	}

	if strings.Contains(part, "/") {
		segments := strings.Split(part, "/")
		initials := make([]string, 0, len(segments))
		for _, seg := range segments {
			if ini := initial(seg); ini != "" {
				initials = append(initials, ini)
			}
		}
		return strings.Join(initials, "/")
	}

	return initial(part)
}

// initial returns the upper-cased first rune of s after trimming.
func initial(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r))
}

// Labels classifies each part and returns the distinct non-empty labels in
// first-seen order. Deduplication is by label, not by raw part text.
func Labels(partNames []string) []string {
	seen := make(map[string]struct{}, len(partNames))
	labels := make([]string, 0, len(partNames))
	for _, p := range partNames {
		label := Classify(p)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}
