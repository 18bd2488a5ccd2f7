package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kb", "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// =============================================================================
// CHUNKING
// =============================================================================

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("   ", 100))
	assert.Equal(t, []string{"one paragraph"}, Chunk("one paragraph", 100))

	text := "alpha alpha\n\nbeta beta\n\ngamma gamma"
	assert.Equal(t, []string{"alpha alpha\n\nbeta beta", "gamma gamma"}, Chunk(text, 22))

	long := strings.Repeat("word ", 100)
	chunks := Chunk(long, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 50)
	}
}

func TestMatchExpression(t *testing.T) {
	assert.Equal(t, `"osha" OR "citations"`, matchExpression("OSHA citations?"))
	assert.Equal(t, `"acme" OR "and"`, matchExpression(`acme "AND" a acme`))
	assert.Equal(t, "", matchExpression("* - ()"))
}

// =============================================================================
// STORE
// =============================================================================

func TestStorePutSearchDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, Document{ID: "safety.md", Title: "Safety", Path: "/kb/safety.md", Hash: "h1"},
		[]string{"Acme received three OSHA citations in 2022.", "The company operates in Essex County."}))
	require.NoError(t, s.Put(ctx, Document{ID: "finance.md", Title: "Finance", Path: "/kb/finance.md", Hash: "h2"},
		[]string{"Revenue grew twelve percent."}))

	hits, err := s.Search(ctx, "OSHA citations", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "safety.md", hits[0].SourceID)
	assert.Equal(t, "Safety", hits[0].Title)
	assert.Contains(t, hits[0].Content, "OSHA")
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = s.Search(ctx, "revenue", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "finance.md", hits[0].SourceID)

	hash, err := s.Hash(ctx, "safety.md")
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, s.Delete(ctx, "safety.md"))
	hits, err = s.Search(ctx, "OSHA", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	require.NoError(t, s.Delete(ctx, "missing.md"))
}

func TestStorePutReplacesChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, Document{ID: "a.md", Title: "A", Hash: "1"}, []string{"old harbor text"}))
	require.NoError(t, s.Put(ctx, Document{ID: "a.md", Title: "A", Hash: "2"}, []string{"new bridge text"}))

	hits, err := s.Search(ctx, "harbor", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, "bridge", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0].Hash)
	assert.Equal(t, 1, docs[0].Chunks)
}

func TestStoreSearchEmptyQuery(t *testing.T) {
	s := openTestStore(t)
	hits, err := s.Search(context.Background(), "?!", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// =============================================================================
// INGEST
// =============================================================================

func TestIngestDir(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "notes", "safety.md"), "# Safety Record\n\nAcme logged two OSHA inspections.")
	writeFile(t, filepath.Join(dir, "memo.txt"), "Permits were filed with the county clerk.")
	writeFile(t, filepath.Join(dir, "page.html"), `<html><head><title>Press Release</title></head>
<body><nav>menu</nav><article><p>Acme opened a new depot in Newark.</p></article></body></html>`)
	writeFile(t, filepath.Join(dir, "image.png"), "not text")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.md"), "hidden depot")

	in, err := NewIngester(s, dir, 200)
	require.NoError(t, err)

	stats, err := in.IngestDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Added: 3}, stats)

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	titles := map[string]string{}
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	assert.Equal(t, map[string]string{
		"notes/safety.md": "Safety Record",
		"memo.txt":        "memo",
		"page.html":       "Press Release",
	}, titles)

	hits, err := s.Search(ctx, "depot", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "page.html", hits[0].SourceID)

	stats, err = in.IngestDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Unchanged: 3}, stats)

	writeFile(t, filepath.Join(dir, "memo.txt"), "Permits were withdrawn.")
	stats, err = in.IngestDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Updated: 1, Unchanged: 2}, stats)
}

func TestIngestRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	writeFile(t, path, "lighthouse keeper")

	in, err := NewIngester(s, dir, 0)
	require.NoError(t, err)
	res, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ResultAdded, res)

	require.NoError(t, in.Remove(ctx, path))
	hits, err := s.Search(ctx, "lighthouse", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.MD"))
	assert.True(t, Supported("b.htm"))
	assert.False(t, Supported("c.pdf"))
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcherReingestsChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := openTestStore(t)
	dir := t.TempDir()
	in, err := NewIngester(s, dir, 0)
	require.NoError(t, err)

	w, err := NewWatcher(in)
	require.NoError(t, err)
	w.debounceDur = 20 * time.Millisecond
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "live.md")
	writeFile(t, path, "# Live\n\nquarry expansion approved")

	require.Eventually(t, func() bool {
		hits, err := s.Search(ctx, "quarry", 5)
		return err == nil && len(hits) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		hits, err := s.Search(ctx, "quarry", 5)
		return err == nil && len(hits) == 0
	}, 5*time.Second, 50*time.Millisecond)
}
