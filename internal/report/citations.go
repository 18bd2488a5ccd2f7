package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"deepresearch/internal/session"
)

// citationGroup matches a run of adjacent [n] markers with its leading blanks.
var citationGroup = regexp.MustCompile(`[ \t]*(?:\[\d+\])+`)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// referenceHeadings are trailing section titles the model sometimes appends.
var referenceHeadings = map[string]bool{
	"references":   true,
	"reference":    true,
	"sources":      true,
	"source":       true,
	"citations":    true,
	"bibliography": true,
	"works cited":  true,
}

// Clean enforces the citation rules on model output: markers outside
// 1..sourceCount are dropped, a trailing references section is removed, and
// when keepCitations is false every marker is removed.
func Clean(markdown string, sourceCount int, keepCitations bool) string {
	md := StripReferencesSection(markdown)
	keep := func(n int) bool { return keepCitations && n >= 1 && n <= sourceCount }
	return strings.TrimSpace(rewriteCitations(md, keep))
}

// StripCitations removes every [n] marker.
func StripCitations(markdown string) string {
	return rewriteCitations(markdown, func(int) bool { return false })
}

// rewriteCitations keeps the markers accepted by keep. Fenced code and
// markdown links ([1](url)) are left alone.
func rewriteCitations(markdown string, keep func(int) bool) string {
	lines := strings.Split(markdown, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = rewriteLine(line, keep)
	}
	return strings.Join(lines, "\n")
}

func rewriteLine(line string, keep func(int) bool) string {
	matches := citationGroup.FindAllStringIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if end < len(line) && line[end] == '(' {
			continue
		}
		group := line[start:end]
		lead := group[:len(group)-len(strings.TrimLeft(group, " \t"))]

		var kept strings.Builder
		for _, sub := range citationMarker.FindAllStringSubmatch(group, -1) {
			n, err := strconv.Atoi(sub[1])
			if err == nil && keep(n) {
				kept.WriteString(sub[0])
			}
		}

		b.WriteString(line[last:start])
		if kept.Len() > 0 {
			b.WriteString(lead)
			b.WriteString(kept.String())
		}
		last = end
	}
	b.WriteString(line[last:])
	return b.String()
}

// StripReferencesSection removes a references/sources section when it is the
// last section of the document.
func StripReferencesSection(markdown string) string {
	lines := strings.Split(markdown, "\n")
	inFence := false
	lastHeading := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && headingText(trimmed) != "" {
			lastHeading = i
		}
	}
	if lastHeading < 0 {
		return markdown
	}
	title := strings.ToLower(headingText(strings.TrimSpace(lines[lastHeading])))
	title = strings.TrimRight(title, ": ")
	if !referenceHeadings[title] {
		return markdown
	}
	return strings.TrimRight(strings.Join(lines[:lastHeading], "\n"), " \t\n")
}

// headingText returns the text of an ATX heading or a line that is entirely
// bold, and "" for anything else.
func headingText(line string) string {
	if strings.HasPrefix(line, "#") {
		text := strings.TrimLeft(line, "#")
		if text == "" || (text[0] != ' ' && text[0] != '\t') {
			return ""
		}
		return strings.TrimSpace(text)
	}
	if len(line) > 4 && strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") {
		inner := strings.TrimSpace(line[2 : len(line)-2])
		if !strings.Contains(inner, "**") {
			return inner
		}
	}
	return ""
}

// CitedNumbers returns the distinct citation numbers in markdown, ascending.
func CitedNumbers(markdown string) []int {
	seen := map[int]bool{}
	rewriteCitations(markdown, func(n int) bool {
		seen[n] = true
		return true
	})
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// References renders the numbered source list. Numbers match the [n] markers
// of a report built from the same sources.
func References(sources []session.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## References\n")
	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = src.URL
		}
		fmt.Fprintf(&b, "\n[%d] [%s](%s)", i+1, title, src.URL)
	}
	return b.String()
}
