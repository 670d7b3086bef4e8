package relay

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/comigor/relaychat/internal/llm"
)

var fallbackMessages = map[llm.FailureKind]string{
	llm.KindNetwork: "I couldn't reach the AI service because of a network problem. " +
		"Please check your connection and try again in a moment.",
	llm.KindTimeout: "The AI service took too long to respond, so I stopped waiting. " +
		"Please try again, perhaps with a shorter question.",
	llm.KindAuth: "The AI service rejected this server's credentials, so I can't answer right now. " +
		"Please let the administrator know.",
	llm.KindGeneric: "Something went wrong while generating a response. " +
		"Please try again in a moment.",
}

// FallbackMessage returns the user-facing explanation for an upstream failure.
func FallbackMessage(cause error) string {
	if msg, ok := fallbackMessages[llm.Classify(cause)]; ok {
		return msg
	}
	return fallbackMessages[llm.KindGeneric]
}

// replay emits text word by word, waiting pacing between words. The
// concatenated fragments equal text.
func replay(ctx context.Context, out Emitter, text string, pacing time.Duration) error {
	var limiter *rate.Limiter
	if pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(pacing), 1)
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := out.Emit(word); err != nil {
			return err
		}
	}
	return nil
}
