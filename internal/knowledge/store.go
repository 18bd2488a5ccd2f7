// Package knowledge is the local knowledge base: documents ingested from disk,
// chunked, and searched with SQLite FTS5 ranking.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	_ "modernc.org/sqlite"
)

// Document is one ingested source file.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Chunks    int       `json:"chunks"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists documents and their FTS5-indexed chunks.
//
// Storage location: .deepresearch/knowledge.db by default.
type Store struct {
	db     *sql.DB
	dbPath string
}

const knowledgeSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	path       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	chunks     INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS chunks USING fts5(
	doc_id UNINDEXED,
	title,
	content,
	tokenize = 'porter unicode61'
);
`

// Open opens (or creates) the knowledge base at dbPath.
func Open(dbPath string) (*Store, error) {
	logging.KnowledgeDebug("Opening knowledge base at %s", dbPath)

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure knowledge base: %w", err)
	}
	if _, err := db.Exec(knowledgeSchema); err != nil {
		db.Close()
		logging.KnowledgeError("Failed to initialize knowledge schema: %v", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Knowledge("Knowledge base ready: %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hash returns the stored content hash for id, or "" when unknown.
func (s *Store) Hash(ctx context.Context, id string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM documents WHERE id = ?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// Put replaces the document and all of its chunks.
func (s *Store) Put(ctx context.Context, doc Document, chunks []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks for %s: %w", doc.ID, err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks (doc_id, title, content) VALUES (?, ?, ?)`, doc.ID, doc.Title, c); err != nil {
			return fmt.Errorf("failed to insert chunk for %s: %w", doc.ID, err)
		}
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, path, hash, chunks, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, path = excluded.path,
		   hash = excluded.hash, chunks = excluded.chunks, updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Path, doc.Hash, len(chunks), doc.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return tx.Commit()
}

// Delete removes a document and its chunks. Unknown ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Documents lists every document, most recently updated first.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, path, hash, chunks, updated_at FROM documents ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var updated int64
		if err := rows.Scan(&d.ID, &d.Title, &d.Path, &d.Hash, &d.Chunks, &updated); err != nil {
			return nil, err
		}
		d.UpdatedAt = time.Unix(updated, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Search implements types.KnowledgeBaseProvider. Query terms are OR-ed and
// results ranked by BM25; Score is higher for better matches.
func (s *Store) Search(ctx context.Context, query string, maxResults int) ([]types.KnowledgeChunk, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Store.Search")
	defer timer.Stop()

	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, title, content, bm25(chunks) AS rank
		 FROM chunks WHERE chunks MATCH ?
		 ORDER BY rank LIMIT ?`, match, maxResults)
	if err != nil {
		return nil, &types.ProviderError{Provider: "knowledge", Op: "search", Err: err}
	}
	defer rows.Close()

	var out []types.KnowledgeChunk
	for rows.Next() {
		var c types.KnowledgeChunk
		var rank float64
		if err := rows.Scan(&c.SourceID, &c.Title, &c.Content, &rank); err != nil {
			return nil, &types.ProviderError{Provider: "knowledge", Op: "search", Err: err}
		}
		c.Score = -rank
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.ProviderError{Provider: "knowledge", Op: "search", Err: err}
	}
	logging.KnowledgeDebug("Knowledge search %q: %d chunks", query, len(out))
	return out, nil
}

// matchExpression turns free text into an FTS5 query of quoted terms joined
// with OR, so punctuation in the query can never be read as FTS syntax.
func matchExpression(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
