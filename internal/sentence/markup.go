package sentence

import (
	"regexp"
	"strings"
)

var (
	reCodeFence  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`([^`\n]*)`")
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	reHTMLTag    = regexp.MustCompile(`<[^>\n]+>`)
	reHeading    = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	reBlockquote = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	reListMarker = regexp.MustCompile(`(?m)^[ \t]*([-*+]|\d+[.)])[ \t]+`)
	reEmphasis   = regexp.MustCompile(`(\*\*|__|~~|\*|_)`)
	reSpaceRun   = regexp.MustCompile(`[ \t]{2,}`)
)

// StripMarkup reduces markdown-formatted chat text to plain speakable text.
// Code fences are dropped entirely; links and images collapse to their
// visible label.
func StripMarkup(text string) string {
	out := reCodeFence.ReplaceAllString(text, " ")
	out = reImage.ReplaceAllString(out, "$1")
	out = reLink.ReplaceAllString(out, "$1")
	out = reHTMLTag.ReplaceAllString(out, " ")
	out = reHeading.ReplaceAllString(out, "")
	out = reBlockquote.ReplaceAllString(out, "")
	out = reListMarker.ReplaceAllString(out, "")
	out = reInlineCode.ReplaceAllString(out, "$1")
	out = reEmphasis.ReplaceAllString(out, "")
	out = reSpaceRun.ReplaceAllString(out, " ")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
