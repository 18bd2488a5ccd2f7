package graph

import (
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```[ \t]*(?:mermaid)?[ \t]*\r?\n(.*?)```")
	headerPattern = regexp.MustCompile(`^(?i)(graph|flowchart)(?:\s+(TD|TB|LR|RL|BT))?\s*;?$`)
	dashLabel     = regexp.MustCompile(`(^|\s)--\s+([^\s\-|>][^|]*?)\s+-->`)
)

// Shape openers in the order they must be tried (longest first).
var shapes = []struct{ open, close string }{
	{"((", "))"}, {"([", "])"}, {"[[", "]]"}, {"[(", ")]"}, {"{{", "}}"},
	{"[", "]"}, {"(", ")"}, {"{", "}"}, {">", "]"},
}

// Lines passed through untouched.
var verbatimPrefixes = []string{"%%", "classDef ", "class ", "style ", "linkStyle ", "click ", "subgraph", "direction "}

// ExtractCode returns the body of the first fenced block in text, or text
// itself when there is no fence.
func ExtractCode(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// Sanitize normalizes Mermaid flowchart source so display text cannot break
// the grammar. The output starts with a "graph TD" or "graph LR" header, every
// node label is wrapped in double quotes inside its shape (A["label"]), every
// pipe edge label is quoted (A -->|"rel"| B) and double quotes inside labels
// are written as #quot;.
func Sanitize(code string) string {
	lines := strings.Split(strings.ReplaceAll(ExtractCode(code), "\r\n", "\n"), "\n")

	header := "graph TD"
	start := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
			if dir := strings.ToUpper(m[2]); dir == "LR" || dir == "RL" {
				header = "graph LR"
			}
			start = i + 1
		} else {
			start = i
		}
		break
	}

	out := []string{header}
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		out = append(out, "    "+sanitizeLine(trimmed))
	}
	return strings.Join(out, "\n")
}

func sanitizeLine(line string) string {
	if line == "end" {
		return line
	}
	for _, p := range verbatimPrefixes {
		if strings.HasPrefix(line, p) {
			return line
		}
	}
	line = dashLabel.ReplaceAllString(line, "$1-->|$2|")

	var b strings.Builder
	for i := 0; i < len(line); {
		c := line[i]

		if c == '|' {
			end := strings.IndexByte(line[i+1:], '|')
			if end < 0 {
				b.WriteString(line[i:])
				break
			}
			b.WriteString(`|"` + escapeLabel(line[i+1:i+1+end]) + `"|`)
			i += end + 2
			continue
		}

		if isIDChar(c) && (i == 0 || !isIDChar(line[i-1])) {
			j := i
			for j < len(line) && isIDChar(line[j]) {
				j++
			}
			b.WriteString(line[i:j])
			if label, shape, next, ok := readShape(line, j); ok {
				b.WriteString(shape.open + `"` + escapeLabel(label) + `"` + shape.close)
				i = next
			} else {
				i = j
			}
			continue
		}

		b.WriteByte(c)
		i++
	}
	return b.String()
}

// readShape parses a node shape starting at pos. It returns the raw label, the
// shape delimiters and the index just past the closing delimiter.
func readShape(line string, pos int) (string, struct{ open, close string }, int, bool) {
	for _, s := range shapes {
		if !strings.HasPrefix(line[pos:], s.open) {
			continue
		}
		body := pos + len(s.open)

		// Already quoted: the label ends at the quote that precedes the closer.
		if strings.HasPrefix(line[body:], `"`) {
			if end := strings.Index(line[body+1:], `"`+s.close); end >= 0 {
				labelEnd := body + 1 + end
				return line[body+1 : labelEnd], s, labelEnd + 1 + len(s.close), true
			}
		}

		depth := 0
		for k := body; k < len(line); k++ {
			if depth == 0 && strings.HasPrefix(line[k:], s.close) {
				return line[body:k], s, k + len(s.close), true
			}
			switch line[k] {
			case '[', '(', '{':
				depth++
			case ']', ')', '}':
				if depth > 0 {
					depth--
				}
			}
		}
		return "", s, pos, false
	}
	return "", struct{ open, close string }{}, pos, false
}

func escapeLabel(label string) string {
	label = strings.TrimSpace(label)
	if len(label) >= 2 && strings.HasPrefix(label, `"`) && strings.HasSuffix(label, `"`) {
		label = label[1 : len(label)-1]
	}
	return strings.ReplaceAll(label, `"`, "#quot;")
}

func isIDChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
