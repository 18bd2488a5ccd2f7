package config

import (
	"errors"
	"testing"
	"time"

	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResearchConfig_DefaultsValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultResearchConfig().Validate())
}

func TestResearchConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	rc := ResearchConfig{ParallelSearch: 3, References: Disable}.WithDefaults(DefaultResearchConfig())
	assert.Equal(t, 3, rc.ParallelSearch)
	assert.Equal(t, 5, rc.SearchMaxResult)
	assert.Equal(t, "duckduckgo", rc.SearchProvider)
	assert.False(t, rc.ReferencesEnabled())
	assert.True(t, rc.CitationImagesEnabled())
	assert.Equal(t, 0, rc.MaxRounds, "no implicit round cap")
}

func TestResearchConfig_ValidateRanges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*ResearchConfig)
		field  string
	}{
		{"parallel too high", func(c *ResearchConfig) { c.ParallelSearch = 6 }, "parallel_search"},
		{"parallel too low", func(c *ResearchConfig) { c.ParallelSearch = -1 }, "parallel_search"},
		{"results too high", func(c *ResearchConfig) { c.SearchMaxResult = 11 }, "search_max_result"},
		{"unknown provider", func(c *ResearchConfig) { c.SearchProvider = "altavista" }, "search_provider"},
		{"bad toggle", func(c *ResearchConfig) { c.References = "on" }, "references"},
		{"bad stream type", func(c *ResearchConfig) { c.SmoothTextStreamType = "sentence" }, "smooth_text_stream_type"},
		{"negative rounds", func(c *ResearchConfig) { c.MaxRounds = -2 }, "max_rounds"},
		{"bad timeout", func(c *ResearchConfig) { c.SearchTimeout = "soon" }, "search_timeout"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rc := DefaultResearchConfig()
			tc.mutate(&rc)
			err := rc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestResearchConfig_SourceSelection(t *testing.T) {
	t.Parallel()

	rc := DefaultResearchConfig()
	assert.True(t, rc.WebSearchEnabled())
	assert.False(t, rc.KnowledgeBaseEnabled())

	rc.OnlyUseLocalResource = Enable
	assert.False(t, rc.WebSearchEnabled(), "local-only disables web search")
	assert.True(t, rc.KnowledgeBaseEnabled(), "local-only implies the knowledge base")
}

func TestResearchConfig_Timeouts(t *testing.T) {
	t.Parallel()

	rc := ResearchConfig{SearchTimeout: "5s"}
	assert.Equal(t, 5*time.Second, rc.GetSearchTimeout())
	assert.Equal(t, 120*time.Second, rc.GetCompletionTimeout())
}

// =============================================================================
// ADMIN + RESOLVE
// =============================================================================

func TestAdminConfig_Apply(t *testing.T) {
	t.Parallel()

	admin := DefaultAdminConfig()
	admin.EnableKnowledgeBase = false
	admin.MaxReportLength = 10

	rc := admin.Apply(ResearchConfig{KnowledgeBase: Enable, OnlyUseLocalResource: Enable, ReportPages: 40})
	assert.Equal(t, Disable, rc.KnowledgeBase)
	assert.Equal(t, Disable, rc.OnlyUseLocalResource)
	assert.Equal(t, 10, rc.ReportPages)
	assert.Equal(t, "gpt-4o", rc.Model)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	rc, err := Resolve(ResearchConfig{ParallelSearch: 2, SearchMaxResult: 3, MaxRounds: 1}, DefaultResearchConfig(), DefaultAdminConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, rc.ParallelSearch)
	assert.Equal(t, 3, rc.SearchMaxResult)
	assert.Equal(t, 1, rc.MaxRounds)

	_, err = Resolve(ResearchConfig{ParallelSearch: 8}, DefaultResearchConfig(), DefaultAdminConfig())
	assert.Error(t, err)
}

func TestResolve_NoSources(t *testing.T) {
	t.Parallel()

	admin := DefaultAdminConfig()
	admin.EnableWebSearch = false

	_, err := Resolve(ResearchConfig{}, DefaultResearchConfig(), admin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFeatureDisabled))
}
