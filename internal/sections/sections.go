// Package sections splits a markdown report into ordered, categorized sections.
// Parsing is a pure transform; the ordering table is injectable so alternate
// taxonomies (other languages, other report kinds) need no code changes.
package sections

import (
	"regexp"
	"sort"
	"strings"
)

// Section is one heading-delimited slice of a report. It is derived from the
// report markdown on every render and never persisted.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	Content string `json:"content"`
	// Marker is the heading prefix exactly as it appeared ("## " or "### ").
	Marker string `json:"marker"`
	Icon   string `json:"icon"`
}

var (
	headingPrefix = regexp.MustCompile(`^#+\s*`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// Parse scans markdown line by line. A line starting with "## " or "### " opens a
// section; every following line up to the next such heading is its content,
// blank lines included. Text before the first heading belongs to no section.
// Sections are stably sorted by their taxonomy order; a nil taxonomy means
// DefaultTaxonomy.
func Parse(markdown string, taxonomy *Taxonomy) []Section {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}

	var (
		out     []Section
		current *Section
		content []string
	)
	flush := func() {
		if current != nil {
			current.Content = strings.Join(content, "\n")
			out = append(out, *current)
		}
	}

	for _, line := range strings.Split(markdown, "\n") {
		marker := headingMarker(line)
		if marker == "" {
			if current != nil {
				content = append(content, line)
			}
			continue
		}

		flush()
		title := headingPrefix.ReplaceAllString(line, "")
		order, icon := taxonomy.Lookup(title)
		current = &Section{
			ID:     whitespaceRun.ReplaceAllString(strings.ToLower(title), "-"),
			Title:  title,
			Order:  order,
			Marker: marker,
			Icon:   icon,
		}
		content = nil
	}
	flush()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func headingMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "## "):
		return "## "
	case strings.HasPrefix(line, "### "):
		return "### "
	}
	return ""
}

// Join renders sections back to markdown in the given order. Parsing the result
// with the same taxonomy yields the same sections.
func Join(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		marker := s.Marker
		if marker == "" {
			marker = "## "
		}
		parts = append(parts, marker+s.Title+"\n"+s.Content)
	}
	return strings.Join(parts, "\n")
}
