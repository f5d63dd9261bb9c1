package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	KeyUserName      = "user_name"
	KeyAssistantName = "assistant_name"
	KeyProvider      = "provider"
	KeyAPIKey        = "api_key"
	KeyMuted         = "muted"

	DefaultUserName      = "Soumodeep"
	DefaultAssistantName = "Luna"
)

const schema = `
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT
);
CREATE TABLE IF NOT EXISTS history (
	id         TEXT PRIMARY KEY,
	session    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS history_session ON history (session, created_at);
`

// Turn is one message of a conversation.
type Turn struct {
	ID        string
	Session   string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store keeps assistant settings and conversation history in SQLite.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or def when the key is absent.
func (s *Store) Get(ctx context.Context, key, def string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("get %s: %w", key, err)
	}
	if !v.Valid {
		return def, nil
	}
	return v.String, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `REPLACE INTO config (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) UserName(ctx context.Context) string {
	v, _ := s.Get(ctx, KeyUserName, DefaultUserName)
	return v
}

func (s *Store) AssistantName(ctx context.Context) string {
	v, _ := s.Get(ctx, KeyAssistantName, DefaultAssistantName)
	return v
}

// Provider returns the saved provider and its key. Both are empty when
// nothing was validated yet.
func (s *Store) Provider(ctx context.Context) (name, apiKey string, err error) {
	if name, err = s.Get(ctx, KeyProvider, ""); err != nil {
		return "", "", err
	}
	if apiKey, err = s.Get(ctx, KeyAPIKey, ""); err != nil {
		return "", "", err
	}
	return name, apiKey, nil
}

func (s *Store) SaveProvider(ctx context.Context, name, apiKey string) error {
	if err := s.Set(ctx, KeyProvider, name); err != nil {
		return err
	}
	return s.Set(ctx, KeyAPIKey, apiKey)
}

func (s *Store) Muted(ctx context.Context) bool {
	v, _ := s.Get(ctx, KeyMuted, "false")
	muted, err := strconv.ParseBool(v)
	return err == nil && muted
}

func (s *Store) SetMuted(ctx context.Context, muted bool) error {
	return s.Set(ctx, KeyMuted, strconv.FormatBool(muted))
}

// AppendTurn records a message of session.
func (s *Store) AppendTurn(ctx context.Context, session, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, session, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), session, role, content, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentTurns returns at most n of the latest turns of session, oldest first.
func (s *Store) RecentTurns(ctx context.Context, session string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session, role, content, created_at FROM history
		 WHERE session = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		session, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t  Turn
			ts int64
		)
		if err := rows.Scan(&t.ID, &t.Session, &t.Role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = time.Unix(0, ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}
