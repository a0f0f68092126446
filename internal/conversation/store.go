// Package conversation keeps the transcript of one chat session.
// Nothing survives the session: the SQLite backend lives in memory too.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/zapup-go/internal/logger"
)

// Store is the session transcript. List returns newest first.
type Store interface {
	Append(ctx context.Context, msg Message) error
	List(ctx context.Context) ([]Message, error)
	Len() int
	Close() error
}

// MemoryStore is the default Store.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message // oldest first
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(context.Context) ([]Message, error) {
	s.mu.RLock()
	out := slices.Clone(s.messages)
	s.mu.RUnlock()
	slices.Reverse(out)
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStore) Close() error { return nil }

// SQLiteStore keeps the transcript in a private in-memory SQLite database and
// an in-memory copy used whenever the database misbehaves.
type SQLiteStore struct {
	db       *sql.DB
	fallback *MemoryStore
}

// NewSQLiteStore opens a fresh in-memory database for one session.
func NewSQLiteStore() (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=10000", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// the shared-cache memory database lives as long as one connection does
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL,
        role TEXT NOT NULL,
        text TEXT NOT NULL,
        model_id TEXT,
        created_at DATETIME
    );`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}
	return &SQLiteStore{db: db, fallback: NewMemoryStore()}, nil
}

// Append persists msg to the database when available and always keeps
// an in-memory copy as fallback.
func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, role, text, model_id, created_at) VALUES (?,?,?,?,?);`,
		msg.ID, string(msg.Role), msg.Text, msg.ModelID, msg.CreatedAt)
	if err != nil {
		logger.L.Error("failed to store message in sqlite; falling back to memory", "error", err)
	}
	return s.fallback.Append(ctx, msg)
}

// List returns the transcript newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, text, model_id, created_at FROM messages ORDER BY seq DESC;`)
	if err != nil {
		logger.L.Warn("sqlite list failed; using in-memory copy", "error", err)
		return s.fallback.List(ctx)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			modelID sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Text, &modelID, &m.CreatedAt); err != nil {
			logger.L.Warn("sqlite scan failed; using in-memory copy", "error", err)
			return s.fallback.List(ctx)
		}
		m.Role = Role(role)
		m.ModelID = modelID.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return s.fallback.List(ctx)
	}
	if len(out) != s.fallback.Len() {
		return s.fallback.List(ctx)
	}
	return out, nil
}

func (s *SQLiteStore) Len() int { return s.fallback.Len() }

// Close drops the database and with it the transcript.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
