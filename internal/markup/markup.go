// Package markup turns lightly decorated model output into plain prose.
package markup

import (
	"regexp"
	"strings"
)

var (
	boldStars       = regexp.MustCompile(`\*\*([^\s*](?:[^\n]*?[^\s*])?)\*\*`)
	boldUnderscores = regexp.MustCompile(`__([^\s_](?:[^\n]*?[^\s_])?)__`)
	// Italic markers must sit on a word boundary so "2*3*4" and "a * b" survive.
	italicStars       = regexp.MustCompile(`(^|[^\w*])\*([^\s*](?:[^*\n]*?[^\s*])?)\*($|[^\w*])`)
	italicUnderscores = regexp.MustCompile(`(^|[^\w_])_([^\s_](?:[^_\n]*?[^\s_])?)_($|[^\w_])`)
	strayStars        = regexp.MustCompile(`\*{2,}`)

	headingMarker   = regexp.MustCompile(`(?m)^[ \t]*#+(?:[ \t]+|$)`)
	listMarker      = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+[.)])[ \t]+`)
	fencedBlock     = regexp.MustCompile("(?s)(?:```|~~~).*?(?:```|~~~)")
	inlineCode      = regexp.MustCompile("`([^`\n]+)`")
	blockQuote      = regexp.MustCompile(`(?m)^[ \t]*>+[ \t]?`)
	horizontalRule  = regexp.MustCompile(`(?m)^[ \t]*(?:(?:-[ \t]*){3,}|(?:\*[ \t]*){3,}|(?:_[ \t]*){3,})$`)
	linkOrImage     = regexp.MustCompile(`!?\[([^\]\n]*)\]\([^)\n]*\)`)
	inlineTag       = regexp.MustCompile(`</?[A-Za-z][^<>\n]*>`)
	extraBlankLines = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips emphasis, headings, list bullets, code fences, quotes,
// rules, links and inline tags from raw. Every rule only removes text, so the
// pass is repeated until the output stops changing; that makes Normalize
// idempotent even when one rule uncovers input for an earlier one.
func Normalize(raw string) string {
	out := raw
	for {
		next := normalizeOnce(out)
		if next == out {
			return next
		}
		out = next
	}
}

func normalizeOnce(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	s = replaceUntilStable(boldStars, s, "$1")
	s = replaceUntilStable(boldUnderscores, s, "$1")
	s = replaceUntilStable(italicStars, s, "${1}${2}${3}")
	s = replaceUntilStable(italicUnderscores, s, "${1}${2}${3}")
	s = strayStars.ReplaceAllString(s, "")

	s = headingMarker.ReplaceAllString(s, "")
	// "* * *" and "- - -" are rules, not nested bullets.
	s = horizontalRule.ReplaceAllString(s, "")
	s = listMarker.ReplaceAllString(s, "")

	s = fencedBlock.ReplaceAllString(s, "")
	s = inlineCode.ReplaceAllString(s, "$1")

	s = blockQuote.ReplaceAllString(s, "")
	s = linkOrImage.ReplaceAllString(s, "$1")
	s = inlineTag.ReplaceAllString(s, "")

	s = extraBlankLines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Boundary-capturing patterns consume the separator between neighbours, so a
// single ReplaceAll misses "*a* *b*".
func replaceUntilStable(re *regexp.Regexp, s string, repl string) string {
	for {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}
