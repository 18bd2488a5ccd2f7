// Package store persists research sessions. Sessions are serialized as JSON
// documents; backends differ only in where the document lives.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/session"
)

// SessionStore persists whole sessions. Load returns types.ErrSessionNotFound
// for unknown ids. Implementations are safe for concurrent use.
type SessionStore interface {
	Save(ctx context.Context, s *session.Session) error
	Load(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)
	Close() error
}

// Locker is implemented by stores shared between processes. Lock claims the
// run of id for ttl, extending the lease until unlock is called; held is false
// when another owner has it.
type Locker interface {
	Lock(ctx context.Context, id string, ttl time.Duration) (unlock func(), held bool, err error)
}

// Summary is the listing view of a stored session.
type Summary struct {
	ID        string        `json:"id"`
	Topic     string        `json:"topic"`
	Kind      session.Kind  `json:"kind"`
	Stage     session.Stage `json:"stage"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func summarize(s *session.Session) Summary {
	return Summary{
		ID:        s.ID,
		Topic:     s.Topic,
		Kind:      s.Kind,
		Stage:     s.Stage,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func encode(s *session.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decode(id string, data []byte) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		logging.StoreError("Failed to decode session %s: %v", id, err)
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &s, nil
}

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, ttl time.Duration) (SessionStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.DatabasePath)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, ttl)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
