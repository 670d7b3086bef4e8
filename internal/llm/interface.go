package llm

import (
	"context"
	"io"
)

// Client is the subset of upstream calls the relay and chat flows use; it is easy to mock in tests.
type Client interface {
	// StreamCompletion issues a streaming completion for a single user prompt and
	// returns the raw SSE body. The caller must close it.
	StreamCompletion(ctx context.Context, prompt string) (io.ReadCloser, error)
	// CreateImage generates one image for prompt.
	CreateImage(ctx context.Context, prompt string) (Image, error)
}

// Image is a generated image reference.
type Image struct {
	URL           string
	RevisedPrompt string
}
