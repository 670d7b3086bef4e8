package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT ''
);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions (updated_at);`,
	`CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL,
    chat_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'text',
    image_url TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id, created_at);`,
}

// SQLite stores conversations in a SQLite database file. Timestamps are kept as
// unix nanoseconds so ordering never depends on text formatting.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create sqlite schema: %w", err)
		}
	}
	return newSQLite(db), nil
}

func newSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) CreateSession(ctx context.Context, sess Session) (Session, error) {
	sess = fillSession(sess)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, title) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(), sess.Title)
	if err != nil {
		return Session{}, fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Session{}, fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	if n == 0 {
		return s.GetSession(ctx, sess.ID)
	}
	return sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess             Session
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, title FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &created, &updated, &sess.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)
	return sess, nil
}

func (s *SQLite) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, updated_at, title FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var (
			sess             Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &created, &updated, &sess.Title); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = fromNanos(created)
		sess.UpdatedAt = fromNanos(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLite) AddMessage(ctx context.Context, m Message) (Message, error) {
	m = fillMessage(m)
	var imageURL any
	if m.ImageURL != "" {
		imageURL = m.ImageURL
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, created_at, chat_id, role, content, type, image_url) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CreatedAt.UnixNano(), m.ChatID, string(m.Role), m.Content, string(m.Type), imageURL)
	if err != nil {
		return Message{}, fmt.Errorf("insert message into %s: %w", m.ChatID, err)
	}
	return m, nil
}

func (s *SQLite) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, chat_id, role, content, type, image_url FROM messages WHERE chat_id = ? ORDER BY created_at ASC, seq ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m        Message
			created  int64
			role, tp string
			imageURL sql.NullString
		)
		if err := rows.Scan(&m.ID, &created, &m.ChatID, &role, &m.Content, &tp, &imageURL); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromNanos(created)
		m.Role = Role(role)
		m.Type = Type(tp)
		m.ImageURL = imageURL.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
