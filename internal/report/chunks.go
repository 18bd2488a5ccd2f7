package report

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Stream granularities.
const (
	ByCharacter = "character"
	ByWord      = "word"
	ByLine      = "line"
)

var wordChunk = regexp.MustCompile(`\s*\S+\s*`)

// Chunks splits markdown for incremental delivery. Joining the chunks yields
// the input unchanged. Unknown granularities fall back to words.
func Chunks(markdown, granularity string) []string {
	if markdown == "" {
		return nil
	}
	switch granularity {
	case ByCharacter:
		out := make([]string, 0, utf8.RuneCountInString(markdown))
		for _, r := range markdown {
			out = append(out, string(r))
		}
		return out
	case ByLine:
		out := strings.SplitAfter(markdown, "\n")
		if out[len(out)-1] == "" {
			out = out[:len(out)-1]
		}
		return out
	default:
		out := wordChunk.FindAllString(markdown, -1)
		if len(out) == 0 {
			return []string{markdown}
		}
		return out
	}
}
