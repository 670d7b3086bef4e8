// Package chat implements the chat turns on top of the conversation store:
// session resolution, streamed text answers, image generation and history.
package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/store"
)

const (
	defaultTitleLength  = 50
	defaultHistoryLimit = 50
)

// Relayer streams an assistant answer for an already stored user prompt.
type Relayer interface {
	Relay(ctx context.Context, chatID, prompt string, out relay.Emitter) relay.Result
}

// ImageGenerator creates one image for a prompt.
type ImageGenerator interface {
	CreateImage(ctx context.Context, prompt string) (llm.Image, error)
}

// Service runs chat turns. It is safe for concurrent use.
type Service struct {
	store   store.Store
	relayer Relayer
	images  ImageGenerator
	chat    config.ChatConfig
	image   config.ImageConfig
	blocked *regexp.Regexp
	now     func() time.Time
}

// NewService creates a Service.
func NewService(st store.Store, relayer Relayer, images ImageGenerator, chatCfg config.ChatConfig, imageCfg config.ImageConfig) *Service {
	if chatCfg.TitleLength <= 0 {
		chatCfg.TitleLength = defaultTitleLength
	}
	if chatCfg.HistoryLimit <= 0 {
		chatCfg.HistoryLimit = defaultHistoryLimit
	}
	return &Service{
		store:   st,
		relayer: relayer,
		images:  images,
		chat:    chatCfg,
		image:   imageCfg,
		blocked: compileBlocked(imageCfg.BlockedTerms),
		now:     time.Now,
	}
}

// saveMessage stores m. Failures are logged and do not stop the turn.
func (s *Service) saveMessage(ctx context.Context, m store.Message) (store.Message, bool) {
	saved, err := s.store.AddMessage(ctx, m)
	if err != nil {
		logger.L.Error("failed to store message", "chat_id", m.ChatID, "role", m.Role, "type", m.Type, "error", err)
		return store.Message{}, false
	}
	return saved, true
}

// saveReply stores an assistant message and moves the session's updated time to it.
func (s *Service) saveReply(ctx context.Context, m store.Message) {
	saved, ok := s.saveMessage(ctx, m)
	if !ok {
		return
	}
	switch err := s.store.TouchSession(ctx, saved.ChatID, saved.CreatedAt); {
	case errors.Is(err, store.ErrNotFound):
		logger.L.Debug("reply stored without a session row", "chat_id", saved.ChatID)
	case err != nil:
		logger.L.Warn("failed to touch session", "chat_id", saved.ChatID, "error", err)
	}
}

func compileBlocked(terms []string) *regexp.Regexp {
	var quoted []string
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
