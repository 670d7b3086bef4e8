package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comigor/relaychat/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres stores conversations in PostgreSQL through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres applies pending migrations and connects a pool to databaseURL.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.L.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s Session) (Session, error) {
	s = fillSession(s)
	s.CreatedAt = s.CreatedAt.Truncate(time.Microsecond)
	s.UpdatedAt = s.UpdatedAt.Truncate(time.Microsecond)
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, created_at, updated_at, title) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		s.ID, s.CreatedAt, s.UpdatedAt, s.Title)
	if err != nil {
		return Session{}, fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return p.GetSession(ctx, s.ID)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := p.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at, title FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &s.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (p *Postgres) TouchSession(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, created_at, updated_at, title FROM sessions ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &s.Title); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) AddMessage(ctx context.Context, m Message) (Message, error) {
	m = fillMessage(m)
	var imageURL *string
	if m.ImageURL != "" {
		imageURL = &m.ImageURL
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (id, created_at, chat_id, role, content, type, image_url) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.CreatedAt, m.ChatID, string(m.Role), m.Content, string(m.Type), imageURL)
	if err != nil {
		return Message{}, fmt.Errorf("insert message into %s: %w", m.ChatID, err)
	}
	return m, nil
}

func (p *Postgres) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, created_at, chat_id, role, content, type, image_url FROM messages WHERE chat_id = $1 ORDER BY created_at ASC, seq ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m        Message
			role, tp string
			imageURL *string
		)
		if err := rows.Scan(&m.ID, &m.CreatedAt, &m.ChatID, &role, &m.Content, &tp, &imageURL); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		m.Role = Role(role)
		m.Type = Type(tp)
		if imageURL != nil {
			m.ImageURL = *imageURL
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
