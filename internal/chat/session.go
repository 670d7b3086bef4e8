package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/store"
)

// ResolveSession makes sure a session row exists for the turn and returns its id.
//
// An empty chatID creates a new session. An unknown chatID creates a session
// with exactly that id. A known chatID has its updated time moved forward and
// keeps its title. When the store cannot create the session a fresh id is
// returned anyway and the turn continues unattached to a session row.
func (s *Service) ResolveSession(ctx context.Context, chatID, prompt string) string {
	chatID = strings.TrimSpace(chatID)

	if chatID != "" {
		sess, err := s.store.GetSession(ctx, chatID)
		switch {
		case err == nil:
			if err := s.store.TouchSession(ctx, chatID, s.nextUpdate(sess.UpdatedAt)); err != nil {
				logger.L.Warn("failed to touch session", "chat_id", chatID, "error", err)
			}
			return chatID
		case !errors.Is(err, store.ErrNotFound):
			logger.L.Warn("session lookup failed; creating it", "chat_id", chatID, "error", err)
		}
	}

	sess, err := s.store.CreateSession(ctx, store.Session{ID: chatID, Title: Title(prompt, s.chat.TitleLength)})
	if err != nil {
		id := uuid.NewString()
		logger.L.Error("failed to create session; continuing without one",
			"requested_id", chatID, "chat_id", id, "error", err)
		return id
	}
	logger.L.Debug("session created", "chat_id", sess.ID)
	return sess.ID
}

// nextUpdate returns the current time, or a moment just after prev when the
// clock has not moved past it.
func (s *Service) nextUpdate(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

// Title derives a session title from the first n characters of the prompt.
func Title(prompt string, n int) string {
	prompt = strings.TrimSpace(prompt)
	runes := []rune(prompt)
	if n > 0 && len(runes) > n {
		return strings.TrimSpace(string(runes[:n]))
	}
	return prompt
}
