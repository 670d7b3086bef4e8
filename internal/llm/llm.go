package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/relaychat/internal/config"
)

// OpenAI talks to an OpenAI-compatible API. Streaming completions bypass the SDK
// decoder so the relay can consume raw bytes; images go through the SDK.
type OpenAI struct {
	api     *openai.Client
	http    *http.Client
	cfg     config.LLMConfig
	baseURL string
}

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *OpenAI {
	httpClient := &http.Client{}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = httpClient

	return &OpenAI{
		api:     openai.NewClientWithConfig(config),
		http:    httpClient,
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (c *OpenAI) StreamCompletion(ctx context.Context, prompt string) (io.ReadCloser, error) {
	payload, err := json.Marshal(openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		kind := Classify(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &UpstreamError{Kind: kind, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("completion request: %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	return resp.Body, nil
}

// CreateImage requests one image. The call is bounded by the configured timeout.
func (c *OpenAI) CreateImage(ctx context.Context, prompt string) (Image, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.cfg.ImageModel,
		N:              1,
		Size:           c.cfg.ImageSize,
		Quality:        c.cfg.ImageQuality,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		if isPolicyRejection(err) {
			return Image{}, fmt.Errorf("%w: %v", ErrContentPolicy, err)
		}
		return Image{}, &UpstreamError{Kind: Classify(err), Err: err}
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return Image{}, &UpstreamError{Kind: KindGeneric, Err: errors.New("image response contained no url")}
	}
	return Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}
