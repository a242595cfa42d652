// Package text prepares user text for the speech endpoint: it strips markup that
// reads badly aloud and splits long input into request-sized chunks.
package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkChars is the per-request input limit used when none is given.
const DefaultMaxChunkChars = 4000

const wordSeparator = " "

// Tags need a letter right after '<' and attributes must carry a value, so
// comparisons such as "x < 10 and y > 5" are left alone.
var (
	htmlTagPattern = regexp.MustCompile(
		`</?[A-Za-z][A-Za-z0-9]*(?:\s+[A-Za-z_:][-A-Za-z0-9_:.]*\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'<>]+))*\s*/?>`,
	)
	tableSeparatorPattern = regexp.MustCompile(`^\|?\s*[-=:|\s]+\|?$`)
	ruleLinePattern       = regexp.MustCompile(`^(?:[-*_]\s*){3,}$`)
	headingPattern        = regexp.MustCompile(`^#{1,6}\s+`)
	bulletPattern         = regexp.MustCompile(`^[-*+]\s+`)
	boldPattern           = regexp.MustCompile(`(^|[\s(\[])(?:\*\*|__)(\S(?:[^\n]*?\S)?)(?:\*\*|__)($|[\s.,;:!?)\]])`)
	italicPattern         = regexp.MustCompile(`(^|[\s(\[])[*_](\S(?:[^*_\n]*?\S)?)[*_]($|[\s.,;:!?)\]])`)
	strikePattern         = regexp.MustCompile(`~~(\S(?:[^~\n]*?\S)?)~~`)
	codePattern           = regexp.MustCompile("`([^`\n]+)`")
)

// ChunkText splits text on whitespace and greedily packs the words into chunks
// whose space-joined length is at most maxLen characters. Words are never split:
// a single word longer than maxLen becomes a chunk of its own. Whitespace-only
// text yields no chunks.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxChunkChars
	}

	var (
		chunks  []string
		current []string
		length  int
	)

	for _, word := range strings.Fields(text) {
		wordLen := utf8.RuneCountInString(word)

		if len(current) > 0 && length+1+wordLen > maxLen {
			chunks = append(chunks, strings.Join(current, wordSeparator))
			current = current[:0:0]
			length = 0
		}

		if len(current) > 0 {
			length++
		}

		current = append(current, word)
		length += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, wordSeparator))
	}

	return chunks
}

// Normalize removes well-formed HTML tags and markdown markup: headings, list
// bullets, table rules and pipes, horizontal rules, and emphasis or code spans
// that are paired around a word. Lone symbols such as the '#' in "C#" or the '*'
// in "3 * 4" are kept. Whitespace runs collapse to single spaces.
func Normalize(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, wordSeparator)

	lines := strings.Split(text, "\n")
	kept := lines[:0]

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if ruleLinePattern.MatchString(trimmed) {
			continue
		}

		if strings.HasPrefix(trimmed, "|") {
			if strings.ContainsAny(trimmed, "-=") && tableSeparatorPattern.MatchString(trimmed) {
				continue
			}

			trimmed = strings.ReplaceAll(trimmed, "|", wordSeparator)
		}

		trimmed = headingPattern.ReplaceAllString(trimmed, "")
		trimmed = bulletPattern.ReplaceAllString(trimmed, "")

		kept = append(kept, trimmed)
	}

	text = strings.Join(kept, "\n")
	text = strikePattern.ReplaceAllString(text, "$1")
	text = codePattern.ReplaceAllString(text, "$1")
	text = unwrapPaired(boldPattern, text)
	text = unwrapPaired(italicPattern, text)

	return strings.Join(strings.Fields(text), wordSeparator)
}

// unwrapPaired drops the markers of pattern's spans while keeping the surrounding
// boundary characters. A match consumes its trailing boundary, so a second pass
// catches spans that directly follow another.
func unwrapPaired(pattern *regexp.Regexp, text string) string {
	for range 2 {
		text = pattern.ReplaceAllString(text, "${1}${2}${3}")
	}

	return text
}
