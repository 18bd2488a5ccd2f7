package sections

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileReport = `# Acme Construction Company Profile
Preamble that is not a section.

## Recommendations
- Engage early

## Executive Summary
Acme is a mid-size contractor [1].

Second paragraph.
### Safety
OSHA cited Acme twice [2].
#### Detail heading stays content
## Appendix
raw notes
## Company Overview
Founded 1982.
`

func TestParseOrdersByTaxonomy(t *testing.T) {
	t.Parallel()

	got := Parse(profileReport, nil)
	titles := make([]string, len(got))
	for i, s := range got {
		titles[i] = s.Title
	}
	assert.Equal(t, []string{"Executive Summary", "Company Overview", "Safety", "Recommendations", "Appendix"}, titles)

	exec := got[0]
	assert.Equal(t, "executive-summary", exec.ID)
	assert.Equal(t, 1, exec.Order)
	assert.Equal(t, "## ", exec.Marker)
	assert.Equal(t, "file-text", exec.Icon)
	assert.Equal(t, "Acme is a mid-size contractor [1].\n\nSecond paragraph.", exec.Content)

	safety := got[2]
	assert.Equal(t, "### ", safety.Marker)
	assert.Equal(t, "shield", safety.Icon)
	assert.Contains(t, safety.Content, "#### Detail heading stays content")

	appendix := got[4]
	assert.Equal(t, DefaultFallbackOrder, appendix.Order)
}

func TestParseDropsPreamble(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Parse("no headings here\n# only a title", nil))
	got := Parse("intro\n## A\nbody", nil)
	require.Len(t, got, 1)
	assert.Equal(t, "body", got[0].Content)
}

func TestParseUnknownTitlesKeepDocumentOrder(t *testing.T) {
	t.Parallel()

	got := Parse("## Zeta\nz\n## Alpha\na\n## Mid\nm", nil)
	require.Len(t, got, 3)
	assert.Equal(t, "Zeta", got[0].Title)
	assert.Equal(t, "Alpha", got[1].Title)
	assert.Equal(t, "Mid", got[2].Title)
}

func TestParseKeepsDuplicates(t *testing.T) {
	t.Parallel()

	got := Parse("## Safety\nfirst\n## Executive Summary\nx\n## safety\nsecond", nil)
	require.Len(t, got, 3)
	assert.Equal(t, "Executive Summary", got[0].Title)
	assert.Equal(t, "first", got[1].Content)
	assert.Equal(t, "second", got[2].Content)
	assert.Equal(t, got[1].Order, got[2].Order)
	assert.Equal(t, got[1].ID, got[2].ID)
}

func TestParseIDCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	got := Parse("## Key   Findings\tNow\nx", nil)
	require.Len(t, got, 1)
	assert.Equal(t, "key-findings-now", got[0].ID)
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestJoinRoundTrip(t *testing.T) {
	t.Parallel()

	docs := []string{
		profileReport,
		"## A\n\n\n## B\n",
		"## Only\n",
		"### Deep\nline\n\n## Executive Summary\nsum",
		"##  Spaced   title\ncontent",
	}
	for _, doc := range docs {
		first := Parse(doc, nil)
		second := Parse(Join(first), nil)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("round trip mismatch for %q (-first +second):\n%s", doc, diff)
		}
		third := Parse(Join(second), nil)
		if diff := cmp.Diff(second, third); diff != "" {
			t.Errorf("second round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

// =============================================================================
// TAXONOMY
// =============================================================================

func TestCustomTaxonomy(t *testing.T) {
	t.Parallel()

	tax, err := ParseTaxonomy([]byte(`
fallback: 50
fallback_icon: dot
entries:
  - key: Resumen Ejecutivo
    order: 1
    icon: doc
  - key: recomendaciones
    order: 2
`))
	require.NoError(t, err)

	got := Parse("## Recomendaciones\nr\n## Otro\no\n## Resumen Ejecutivo\ne", tax)
	require.Len(t, got, 3)
	assert.Equal(t, "Resumen Ejecutivo", got[0].Title)
	assert.Equal(t, "doc", got[0].Icon)
	assert.Equal(t, "dot", got[1].Icon, "entry without icon uses the fallback icon")
	assert.Equal(t, 50, got[2].Order)
}

func TestContainsMatching(t *testing.T) {
	t.Parallel()

	tax := DefaultTaxonomy()
	tax.MatchContains = true

	order, icon := tax.Lookup("Financial Performance")
	assert.Equal(t, 4, order)
	assert.Equal(t, "dollar-sign", icon)

	exact := DefaultTaxonomy()
	order, _ = exact.Lookup("Financial Performance")
	assert.Equal(t, DefaultFallbackOrder, order)
}

func TestHandBuiltTaxonomy(t *testing.T) {
	t.Parallel()

	tax := &Taxonomy{Entries: []Entry{{Key: "Intro", Order: 3}}}
	order, icon := tax.Lookup("intro")
	assert.Equal(t, 3, order)
	assert.Equal(t, DefaultIcon, icon)

	order, _ = tax.Lookup("other")
	assert.Equal(t, DefaultFallbackOrder, order)
}

func TestParseTaxonomyErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseTaxonomy([]byte("entries:\n  - key: a\n  - key: A\n"))
	assert.Error(t, err)

	_, err = ParseTaxonomy([]byte("entries:\n  - order: 1\n"))
	assert.Error(t, err)

	_, err = ParseTaxonomy([]byte("entries: [unclosed"))
	assert.Error(t, err)
}

func TestLoadTaxonomy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries:\n  - key: summary\n    order: 1\n"), 0644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	order, _ := tax.Lookup("Summary")
	assert.Equal(t, 1, order)

	_, err = LoadTaxonomy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
