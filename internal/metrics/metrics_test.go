package metrics

import (
	"context"
	"errors"
	"testing"

	"deepresearch/internal/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct{ err error }

func (f fakeSearch) Name() string { return "fake-search" }

func (f fakeSearch) Search(_ context.Context, query string, _ int, _ string) ([]types.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.SearchResult{{URL: "https://example.com/" + query}}, nil
}

type fakeKnowledge struct{}

func (fakeKnowledge) Search(context.Context, string, int) ([]types.KnowledgeChunk, error) {
	return []types.KnowledgeChunk{{SourceID: "doc"}}, nil
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(stageTransitionCounter.WithLabelValues("INIT", "PLANNING"))
	StageTransition("INIT", "PLANNING")
	assert.Equal(t, before+1, testutil.ToFloat64(stageTransitionCounter.WithLabelValues("INIT", "PLANNING")))

	before = testutil.ToFloat64(queryOutcomeCounter.WithLabelValues(OutcomeFailed))
	QueryFinished(OutcomeFailed)
	assert.Equal(t, before+1, testutil.ToFloat64(queryOutcomeCounter.WithLabelValues(OutcomeFailed)))

	before = testutil.ToFloat64(sessionCounter.WithLabelValues("research"))
	SessionStarted("research")
	assert.Equal(t, before+1, testutil.ToFloat64(sessionCounter.WithLabelValues("research")))
}

func TestGauges(t *testing.T) {
	base := testutil.ToFloat64(inFlightQueries)
	done := QueryStarted()
	assert.Equal(t, base+1, testutil.ToFloat64(inFlightQueries))
	done()
	assert.Equal(t, base, testutil.ToFloat64(inFlightQueries))

	base = testutil.ToFloat64(activeRuns)
	done = RunStarted()
	assert.Equal(t, base+1, testutil.ToFloat64(activeRuns))
	done()
	assert.Equal(t, base, testutil.ToFloat64(activeRuns))
}

func TestInstrumentCompletion(t *testing.T) {
	boom := errors.New("boom")
	p := InstrumentCompletion("test-llm", types.CompletionFunc(func(_ context.Context, req types.CompletionRequest) (string, error) {
		if req.Prompt == "fail" {
			return "", boom
		}
		return "ok:" + req.Prompt, nil
	}))

	errsBefore := testutil.ToFloat64(providerErrorCounter.WithLabelValues("test-llm", "complete"))

	out, err := p.Complete(context.Background(), types.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok:hi", out)

	_, err = p.Complete(context.Background(), types.CompletionRequest{Prompt: "fail"})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, errsBefore+1, testutil.ToFloat64(providerErrorCounter.WithLabelValues("test-llm", "complete")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(providerLatency), 1)
}

func TestInstrumentSearch(t *testing.T) {
	p := InstrumentSearch(fakeSearch{})
	assert.Equal(t, "fake-search", p.Name())

	res, err := p.Search(context.Background(), "acme", 3, "")
	require.NoError(t, err)
	require.Len(t, res, 1)

	errsBefore := testutil.ToFloat64(providerErrorCounter.WithLabelValues("fake-search", "search"))
	_, err = InstrumentSearch(fakeSearch{err: errors.New("down")}).Search(context.Background(), "acme", 3, "")
	assert.Error(t, err)
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(providerErrorCounter.WithLabelValues("fake-search", "search")))

	chunks, err := InstrumentKnowledge(fakeKnowledge{}).Search(context.Background(), "acme", 3)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}
