// Package textutil provides display-width-aware string helpers.
package textutil

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// TruncateDisplay truncates s to at most maxWidth terminal cells, counting
// double-width characters as two, and appends suffix when truncation
// occurred. Webhook targets enforce payload limits in displayed length,
// not bytes.
func TruncateDisplay(s string, maxWidth int, suffix string) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}

	var (
		sb    strings.Builder
		width int
	)

	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if width+w > maxWidth {
			break
		}

		width += w

		sb.WriteRune(r)
	}

	return sb.String() + suffix
}

// NormalizeWhitespace collapses runs of whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
