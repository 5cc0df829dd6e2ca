// Package sentence divides chat text into speakable segments and strips
// inline markup that speech engines cannot interpret.
package sentence

import (
	"fmt"
	"strings"
)

// Strategy selects how text is divided into segments.
type Strategy string

const (
	StrategyPunctuation Strategy = "punctuation"
	StrategyParagraph   Strategy = "paragraph"
	StrategyNone        Strategy = "none"
)

// ParseStrategy maps a config value onto a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(value) {
	case StrategyPunctuation, StrategyParagraph, StrategyNone:
		return Strategy(value), nil
	case "":
		return StrategyPunctuation, nil
	}
	return "", fmt.Errorf("unknown split strategy %q", value)
}

// Split divides text into ordered speakable segments. Whitespace-only
// segments are dropped; an empty result means there is nothing to speak.
func Split(text string, strategy Strategy) []string {
	switch strategy {
	case StrategyParagraph:
		return splitParagraphs(text)
	case StrategyNone:
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	default:
		return splitPunctuation(text)
	}
}

// splitPunctuation cuts after each run of terminal punctuation, keeping the
// punctuation attached to its sentence. Newlines are also boundaries.
func splitPunctuation(text string) []string {
	var segments []string
	var b strings.Builder

	runes := []rune(text)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			segments = append(segments, s)
		}
		b.Reset()
	}

	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if isTerminal(r) {
			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if !isTerminal(next) {
				flush()
			}
		}
	}
	flush()
	return segments
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func splitParagraphs(text string) []string {
	var segments []string
	for _, block := range strings.Split(text, "\n\n") {
		if s := strings.TrimSpace(block); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
