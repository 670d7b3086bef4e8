package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/store"
)

// ImageResult is a generated image and the session it was stored under.
type ImageResult struct {
	ChatID string
	// Prompt is the user's prompt as received, trimmed.
	Prompt string
	// RevisedPrompt is the prompt the provider reports it drew, or the phrasing
	// that succeeded when it reports none.
	RevisedPrompt string
	ImageURL      string
	Attempts      int
}

// GenerateImage validates message, stores it as an image request and asks the
// provider for an image. Content-policy rejections are retried with each
// configured alternative phrasing. The assistant message is stored only on success.
func (s *Service) GenerateImage(ctx context.Context, chatID, message string) (ImageResult, error) {
	prompt := strings.TrimSpace(message)
	res := ImageResult{Prompt: prompt}
	if err := s.validateImagePrompt(prompt); err != nil {
		return res, err
	}

	res.ChatID = s.ResolveSession(ctx, chatID, prompt)
	s.saveMessage(ctx, store.Message{
		ChatID:  res.ChatID,
		Role:    store.RoleUser,
		Type:    store.TypeImage,
		Content: prompt,
	})

	attempts := imageAttempts(prompt, s.image.Alternatives)
	var lastErr error
	for i, attempt := range attempts {
		res.Attempts = i + 1
		img, err := s.images.CreateImage(ctx, attempt)
		if err == nil {
			res.ImageURL = img.URL
			res.RevisedPrompt = img.RevisedPrompt
			if res.RevisedPrompt == "" {
				res.RevisedPrompt = attempt
			}
			s.saveReply(ctx, store.Message{
				ChatID:   res.ChatID,
				Role:     store.RoleAssistant,
				Type:     store.TypeImage,
				Content:  res.RevisedPrompt,
				ImageURL: res.ImageURL,
			})
			logger.L.Info("image generated", "chat_id", res.ChatID, "attempts", res.Attempts)
			return res, nil
		}

		if !errors.Is(err, llm.ErrContentPolicy) {
			logger.L.Error("image generation failed", "chat_id", res.ChatID, "attempt", res.Attempts, "error", err)
			return res, fmt.Errorf("%w: %w", ErrImageFailed, err)
		}
		logger.L.Warn("image prompt rejected by content policy",
			"chat_id", res.ChatID, "attempt", res.Attempts, "remaining", len(attempts)-res.Attempts)
		lastErr = err
	}

	return res, fmt.Errorf("%w after %d attempts: %w", ErrImageRejected, len(attempts), lastErr)
}

func (s *Service) validateImagePrompt(prompt string) error {
	if prompt == "" {
		return ErrEmptyMessage
	}
	n := utf8.RuneCountInString(prompt)
	if lo := s.image.MinPromptLength; n < lo {
		return fmt.Errorf("%w: at least %d characters", ErrPromptTooShort, lo)
	}
	if hi := s.image.MaxPromptLength; hi > 0 && n > hi {
		return fmt.Errorf("%w: at most %d characters", ErrPromptTooLong, hi)
	}
	if s.blocked != nil && s.blocked.MatchString(prompt) {
		return ErrBannedContent
	}
	return nil
}
