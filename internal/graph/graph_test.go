package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SANITIZE
// =============================================================================

func TestSanitizeQuotesLabels(t *testing.T) {
	t.Parallel()

	got := Sanitize("```mermaid\ngraph LR\nA[Acme Construction] -->|employs| B(Jane Doe)\nB --> C{OSHA}\n```")
	assert.Equal(t, strings.Join([]string{
		"graph LR",
		`    A["Acme Construction"] -->|"employs"| B("Jane Doe")`,
		`    B --> C{"OSHA"}`,
	}, "\n"), got)
}

func TestSanitizeEscapesInnerQuotes(t *testing.T) {
	t.Parallel()

	got := Sanitize(`graph TD
Q[The "Big Dig" project] -->|"called it "unsafe""| R["He said "hi""]`)
	assert.Contains(t, got, `Q["The #quot;Big Dig#quot; project"]`)
	assert.Contains(t, got, `R["He said #quot;hi#quot;"]`)
	assert.Contains(t, got, `-->|"called it #quot;unsafe#quot;"|`)

	// Every label is fully wrapped: no bare quote survives between the delimiters.
	for _, line := range strings.Split(got, "\n")[1:] {
		assert.Equal(t, 0, strings.Count(line, `"`)%2, "unbalanced quotes in %q", line)
	}
}

func TestSanitizeAddsHeader(t *testing.T) {
	t.Parallel()

	got := Sanitize("A[One] --> B[Two]")
	assert.True(t, strings.HasPrefix(got, "graph TD\n"))

	got = Sanitize("flowchart RL\nA --> B")
	assert.True(t, strings.HasPrefix(got, "graph LR\n"))

	got = Sanitize("graph BT;\nA --> B")
	assert.True(t, strings.HasPrefix(got, "graph TD\n"))
}

func TestSanitizeDashLabelsAndShapes(t *testing.T) {
	t.Parallel()

	got := Sanitize("graph TD\nA((Hub)) -- supplies --> B[[Store (East)]]\nC>Flag] --> D[(Ledger)]\nsubgraph Ops\nend\n%% comment")
	assert.Contains(t, got, `A(("Hub")) -->|"supplies"| B[["Store (East)"]]`)
	assert.Contains(t, got, `C>"Flag"] --> D[("Ledger")]`)
	assert.Contains(t, got, "    subgraph Ops")
	assert.Contains(t, got, "    end")
	assert.Contains(t, got, "    %% comment")
}

func TestSanitizeIsIdempotent(t *testing.T) {
	t.Parallel()

	once := Sanitize("graph TD\nA[x \"y\"] -->|r| B(z)")
	assert.Equal(t, once, Sanitize(once))
}

func TestExtractCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "graph TD\nA-->B", ExtractCode("Here you go:\n```mermaid\ngraph TD\nA-->B\n```\nthanks"))
	assert.Equal(t, "graph TD", ExtractCode("  graph TD  "))
}

// =============================================================================
// GENERATOR
// =============================================================================

func TestGenerate(t *testing.T) {
	t.Parallel()

	var seen types.CompletionRequest
	p := types.CompletionFunc(func(_ context.Context, req types.CompletionRequest) (string, error) {
		seen = req
		return "```mermaid\ngraph TD\nAcme[Acme \"The Builder\"] -->|cited by| Osha[OSHA]\n```", nil
	})

	out, err := NewGenerator(p, WithModel("gpt-4o")).Generate(context.Background(), `Acme "The Builder" was cited by OSHA.`)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", seen.Model)
	assert.Contains(t, seen.Prompt, "Mermaid")
	assert.Contains(t, out, `Acme["Acme #quot;The Builder#quot;"] -->|"cited by"| Osha["OSHA"]`)
	assert.NotContains(t, out, "```")
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()

	g := NewGenerator(types.CompletionFunc(func(context.Context, types.CompletionRequest) (string, error) {
		return "", errors.New("boom")
	}))
	_, err := g.Generate(context.Background(), "text")
	var pe *types.ProviderError
	assert.ErrorAs(t, err, &pe)

	_, err = g.Generate(context.Background(), "   ")
	assert.Error(t, err)

	empty := NewGenerator(types.CompletionFunc(func(context.Context, types.CompletionRequest) (string, error) {
		return "```mermaid\n```", nil
	}))
	_, err = empty.Generate(context.Background(), "text")
	assert.Error(t, err)
}
