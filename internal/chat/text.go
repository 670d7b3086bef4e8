package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/store"
)

// Turn is a validated text prompt bound to a session.
type Turn struct {
	ChatID string
	Prompt string
}

// BeginText validates message, resolves the session and stores the user message.
// The returned turn is ready to be streamed with StreamText.
func (s *Service) BeginText(ctx context.Context, chatID, message string) (Turn, error) {
	prompt := strings.TrimSpace(message)
	if prompt == "" {
		return Turn{}, ErrEmptyMessage
	}
	if limit := s.chat.MaxMessageLength; limit > 0 && utf8.RuneCountInString(prompt) > limit {
		return Turn{}, fmt.Errorf("%w: at most %d characters", ErrMessageTooLong, limit)
	}

	id := s.ResolveSession(ctx, chatID, prompt)
	s.saveMessage(ctx, store.Message{
		ChatID:  id,
		Role:    store.RoleUser,
		Type:    store.TypeText,
		Content: prompt,
	})
	return Turn{ChatID: id, Prompt: prompt}, nil
}

// StreamText relays the assistant answer for turn into out.
func (s *Service) StreamText(ctx context.Context, turn Turn, out relay.Emitter) relay.Result {
	return s.relayer.Relay(ctx, turn.ChatID, turn.Prompt, out)
}
