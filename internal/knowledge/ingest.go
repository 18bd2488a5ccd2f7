package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/search"
)

// maxFileSize bounds a single ingested file.
const maxFileSize = 8 << 20

var supportedExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".html":     true,
	".htm":      true,
}

// Supported reports whether path has an ingestible extension.
func Supported(path string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(path))]
}

// IngestStats summarizes one directory pass.
type IngestStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Ingester loads files under Root into a Store.
type Ingester struct {
	store     *Store
	root      string
	chunkSize int
}

// NewIngester creates an ingester rooted at dir.
func NewIngester(store *Store, dir string, chunkSize int) (*Ingester, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingester{store: store, root: root, chunkSize: chunkSize}, nil
}

// Root returns the absolute ingest root.
func (in *Ingester) Root() string { return in.root }

// DocumentID is the slash-separated path relative to the root. Files outside
// the root keep their absolute path.
func (in *Ingester) DocumentID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(in.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// IngestDir walks the root and ingests every supported file.
func (in *Ingester) IngestDir(ctx context.Context) (IngestStats, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Ingester.IngestDir")
	defer timer.Stop()

	var stats IngestStats
	err := filepath.WalkDir(in.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != in.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Supported(path) {
			return nil
		}

		result, err := in.IngestFile(ctx, path)
		if err != nil {
			logging.KnowledgeWarn("Failed to ingest %s: %v", path, err)
			stats.Failed++
			return nil
		}
		switch result {
		case ResultAdded:
			stats.Added++
		case ResultUpdated:
			stats.Updated++
		default:
			stats.Unchanged++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to walk %s: %w", in.root, err)
	}

	logging.Knowledge("Ingested %s: %d added, %d updated, %d unchanged, %d failed",
		in.root, stats.Added, stats.Updated, stats.Unchanged, stats.Failed)
	return stats, nil
}

// Result is the outcome of ingesting one file.
type Result int

const (
	ResultUnchanged Result = iota
	ResultAdded
	ResultUpdated
)

// IngestFile loads one file, skipping it when its content hash is unchanged.
func (in *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ResultUnchanged, err
	}
	if info.Size() > maxFileSize {
		return ResultUnchanged, fmt.Errorf("%s exceeds %d bytes", path, maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ResultUnchanged, err
	}

	id := in.DocumentID(path)
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	prev, err := in.store.Hash(ctx, id)
	if err != nil {
		return ResultUnchanged, err
	}
	if prev == hash {
		return ResultUnchanged, nil
	}

	title, text, err := extract(path, string(data))
	if err != nil {
		return ResultUnchanged, err
	}

	doc := Document{ID: id, Title: title, Path: path, Hash: hash, UpdatedAt: time.Now()}
	if err := in.store.Put(ctx, doc, Chunk(text, in.chunkSize)); err != nil {
		return ResultUnchanged, err
	}

	logging.KnowledgeDebug("Ingested %s (%s)", id, title)
	if prev == "" {
		return ResultAdded, nil
	}
	return ResultUpdated, nil
}

// Remove deletes the document for path.
func (in *Ingester) Remove(ctx context.Context, path string) error {
	return in.store.Delete(ctx, in.DocumentID(path))
}

// extract returns a title and plain/markdown text for a file.
func extract(path, data string) (string, string, error) {
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		page, err := search.ParsePage("file://"+filepath.ToSlash(path), data)
		if err != nil {
			return "", "", err
		}
		title := page.Title
		if title == "" {
			title = fallback
		}
		return title, page.Markdown, nil
	case ".md", ".markdown":
		for _, line := range strings.Split(data, "\n") {
			if strings.HasPrefix(line, "# ") {
				return strings.TrimSpace(line[2:]), data, nil
			}
		}
		return fallback, data, nil
	default:
		return fallback, data, nil
	}
}
