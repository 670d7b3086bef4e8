package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/comigor/relaychat/internal/store"
)

// Sessions returns the most recently updated sessions, newest first.
func (s *Service) Sessions(ctx context.Context) ([]store.Session, error) {
	sessions, err := s.store.ListSessions(ctx, s.chat.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return sessions, nil
}

// Messages returns a session's messages, oldest first. Unknown sessions have
// no messages.
func (s *Service) Messages(ctx context.Context, chatID string) ([]store.Message, error) {
	msgs, err := s.store.ListMessages(ctx, strings.TrimSpace(chatID))
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", chatID, err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}
