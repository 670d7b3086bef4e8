// Package store persists chat sessions and their messages.
//
// Three backends share the Store contract: SQLite (default), Postgres, and an
// in-memory store used when the SQLite database cannot be opened.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Type of a message payload.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
)

// Session groups messages under one identifier.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single conversational message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      Role      `json:"role"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the conversation store. Implementations are safe for concurrent use.
type Store interface {
	// CreateSession inserts a session. Empty ID and zero timestamps are filled in.
	// When the id is already taken the stored session is returned unchanged.
	CreateSession(ctx context.Context, s Session) (Session, error)
	// GetSession returns ErrNotFound when no session has the given id.
	GetSession(ctx context.Context, id string) (Session, error)
	// TouchSession sets updated_at. It returns ErrNotFound for unknown ids.
	TouchSession(ctx context.Context, id string, at time.Time) error
	// ListSessions returns up to limit sessions, most recently updated first.
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	// AddMessage appends a message. Empty ID and zero CreatedAt are filled in.
	// The session row is not required to exist.
	AddMessage(ctx context.Context, m Message) (Message, error)
	// ListMessages returns the session's messages oldest first, insertion order on ties.
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	Close() error
}
