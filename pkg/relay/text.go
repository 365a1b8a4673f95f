// Copyright 2024-2026 Aiku AI

package relay

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// Tag appends tag to text on its own line unless text already contains it.
// Tag(Tag(x, t), t) == Tag(x, t) for every x.
func Tag(text, tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.Contains(text, tag) {
		return text
	}
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return tag
	}
	return trimmed + "\n" + tag
}

// Truncate caps text at max runes. Longer text keeps its first max-3 runes
// followed by "...", so the result is exactly max runes long. A max of zero
// or less disables the cap.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	if max <= len(ellipsis) {
		return ellipsis[:max]
	}
	runes := []rune(text)
	return string(runes[:max-len(ellipsis)]) + ellipsis
}
