package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/store"
)

// State of a relay run.
type State string

const (
	StateStreaming  State = "Streaming"
	StateCompleted  State = "Completed"  // Terminal: [DONE] received
	StateIncomplete State = "Incomplete" // Terminal: upstream ended or broke after content was forwarded
	StateFallback   State = "Fallback"   // Terminal: upstream unusable, local explanation sent
	StateCancelled  State = "Cancelled"  // Terminal: downstream client went away
)

// Trigger moves a run out of StateStreaming.
type Trigger string

const (
	TriggerDoneMarker     Trigger = "DoneMarker"
	TriggerUpstreamEnded  Trigger = "UpstreamEnded"
	TriggerUpstreamFailed Trigger = "UpstreamFailed"
	TriggerClientGone     Trigger = "ClientGone"
)

var (
	// ErrIncompleteStream is the cause recorded when upstream closes without [DONE].
	ErrIncompleteStream = errors.New("upstream stream ended without [DONE]")
	// ErrClientGone is the cause recorded when the downstream client disconnects.
	ErrClientGone = errors.New("downstream client disconnected")
)

const incompleteMessage = "The response was interrupted before it finished. Please try again."

// MessageStore is where the engine records assistant messages.
type MessageStore interface {
	AddMessage(ctx context.Context, m store.Message) (store.Message, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
}

// Upstream opens the provider stream.
type Upstream interface {
	StreamCompletion(ctx context.Context, prompt string) (io.ReadCloser, error)
}

// Options tune an Engine.
type Options struct {
	// Timeout bounds the whole upstream call. Zero means no bound.
	Timeout time.Duration
	// FallbackPacing is the delay between words of a fallback reply.
	FallbackPacing time.Duration
	// ReadBuffer is the upstream read size.
	ReadBuffer int
}

// Engine relays one upstream completion stream to one downstream client per call
// and records the assistant answer once the run settles.
type Engine struct {
	upstream Upstream
	store    MessageStore
	opts     Options
}

// NewEngine creates an Engine.
func NewEngine(upstream Upstream, st MessageStore, opts Options) *Engine {
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = 4096
	}
	return &Engine{upstream: upstream, store: st, opts: opts}
}

// Result describes how a run settled.
type Result struct {
	State State
	// Content is the persisted answer for Completed and Fallback, and the
	// discarded partial text otherwise.
	Content string
	// MessageID is the stored assistant message, empty when nothing was stored.
	MessageID string
	// Err is the cause for every state but Completed.
	Err error
}

type run struct {
	ctx       context.Context
	engine    *Engine
	chatID    string
	out       Emitter
	acc       strings.Builder
	forwarded int
	result    Result
	fsm       *stateless.StateMachine
}

// Relay streams the answer to prompt into out. The user message must already be
// stored. Relay always terminates out with a [DONE] frame unless the client is gone.
func (e *Engine) Relay(ctx context.Context, chatID, prompt string, out Emitter) Result {
	r := e.newRun(ctx, chatID, out)

	upCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		upCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var (
		trigger Trigger
		cause   error
	)
	body, err := e.upstream.StreamCompletion(upCtx, prompt)
	switch {
	case ctx.Err() != nil:
		if body != nil {
			body.Close()
		}
		trigger, cause = TriggerClientGone, fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
	case err != nil:
		trigger, cause = TriggerUpstreamFailed, err
	default:
		defer body.Close()
		trigger, cause = r.pump(upCtx, body)
	}

	// Side effects of the terminal state must not be cut short by the request
	// context; the entry actions decide which steps honor it.
	if err := r.fsm.FireCtx(context.WithoutCancel(ctx), trigger, cause); err != nil {
		logger.L.Error("relay transition failed", "chat_id", chatID, "trigger", trigger, "error", err)
		if r.result.Err == nil {
			r.result.Err = err
		}
	}
	r.result.State = r.fsm.MustState().(State)
	return r.result
}

func (e *Engine) newRun(ctx context.Context, chatID string, out Emitter) *run {
	r := &run{ctx: ctx, engine: e, chatID: chatID, out: out}

	fsm := stateless.NewStateMachine(StateStreaming)
	fsm.Configure(StateStreaming).
		Permit(TriggerDoneMarker, StateCompleted).
		Permit(TriggerUpstreamEnded, StateIncomplete).
		Permit(TriggerUpstreamFailed, StateFallback).
		Permit(TriggerClientGone, StateCancelled)
	fsm.Configure(StateCompleted).OnEntry(r.commit)
	fsm.Configure(StateIncomplete).OnEntry(r.abort)
	fsm.Configure(StateFallback).OnEntry(r.fallback)
	fsm.Configure(StateCancelled).OnEntry(r.cancel)

	r.fsm = fsm
	return r
}

// pump reads upstream until a terminal condition and returns the trigger for it.
// Each decoded delta is emitted before the next read.
func (r *run) pump(upCtx context.Context, body io.Reader) (Trigger, error) {
	var dec Decoder
	buf := make([]byte, r.engine.opts.ReadBuffer)
	for {
		if err := r.ctx.Err(); err != nil {
			return TriggerClientGone, fmt.Errorf("%w: %v", ErrClientGone, err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if trigger, cause := r.forward(dec.Feed(buf[:n])); trigger != "" {
				return trigger, cause
			}
		}
		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			if trigger, cause := r.forward(dec.Flush()); trigger != "" {
				return trigger, cause
			}
			return TriggerUpstreamEnded, ErrIncompleteStream
		}
		if err := r.ctx.Err(); err != nil {
			return TriggerClientGone, fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		if errors.Is(upCtx.Err(), context.DeadlineExceeded) {
			readErr = &llm.UpstreamError{Kind: llm.KindTimeout, Err: readErr}
		}
		if r.forwarded == 0 {
			return TriggerUpstreamFailed, readErr
		}
		return TriggerUpstreamEnded, readErr
	}
}

// forward emits deltas in order. It returns a non-empty trigger when the run must stop.
func (r *run) forward(events []Event) (Trigger, error) {
	for _, ev := range events {
		switch ev.Kind {
		case EventDone:
			return TriggerDoneMarker, nil
		case EventDelta:
			r.acc.WriteString(ev.Content)
			r.forwarded++
			if err := r.out.Emit(ev.Content); err != nil {
				return TriggerClientGone, fmt.Errorf("%w: %v", ErrClientGone, err)
			}
		}
	}
	return "", nil
}

func (r *run) commit(ctx context.Context, _ ...any) error {
	content := r.acc.String()
	r.result.Content = content
	if content != "" {
		r.persist(ctx, content)
	}
	if err := r.out.Done(); err != nil {
		r.result.Err = fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	logger.L.Debug("relay completed", "chat_id", r.chatID, "fragments", r.forwarded, "chars", len(content))
	return nil
}

func (r *run) abort(_ context.Context, args ...any) error {
	cause := causeOf(args)
	r.result.Content = r.acc.String()
	r.result.Err = cause
	logger.L.Warn("upstream stream ended early; partial answer discarded",
		"chat_id", r.chatID, "fragments", r.forwarded, "error", cause)

	if err := r.out.Fail(incompleteMessage); err != nil {
		return nil
	}
	if err := r.out.Done(); err != nil {
		logger.L.Debug("terminal frame not delivered", "chat_id", r.chatID, "error", err)
	}
	return nil
}

func (r *run) fallback(ctx context.Context, args ...any) error {
	cause := causeOf(args)
	text := FallbackMessage(cause)
	r.result.Content = text
	r.result.Err = cause
	logger.L.Warn("upstream unavailable; replying with fallback",
		"chat_id", r.chatID, "kind", llm.Classify(cause), "error", cause)

	r.persist(ctx, text)

	if err := replay(r.ctx, r.out, text, r.engine.opts.FallbackPacing); err != nil {
		logger.L.Info("client left during fallback reply", "chat_id", r.chatID, "error", err)
		return nil
	}
	if err := r.out.Done(); err != nil {
		logger.L.Debug("terminal frame not delivered", "chat_id", r.chatID, "error", err)
	}
	return nil
}

func (r *run) cancel(_ context.Context, args ...any) error {
	r.result.Content = r.acc.String()
	r.result.Err = causeOf(args)
	logger.L.Info("client disconnected; partial answer discarded",
		"chat_id", r.chatID, "fragments", r.forwarded)
	return nil
}

func (r *run) persist(ctx context.Context, content string) {
	msg, err := r.engine.store.AddMessage(ctx, store.Message{
		ChatID:  r.chatID,
		Role:    store.RoleAssistant,
		Type:    store.TypeText,
		Content: content,
	})
	if err != nil {
		logger.L.Error("failed to store assistant message", "chat_id", r.chatID, "error", err)
		return
	}
	r.result.MessageID = msg.ID

	switch err := r.engine.store.TouchSession(ctx, r.chatID, msg.CreatedAt); {
	case errors.Is(err, store.ErrNotFound):
		logger.L.Debug("assistant message stored without a session row", "chat_id", r.chatID)
	case err != nil:
		logger.L.Warn("failed to touch session", "chat_id", r.chatID, "error", err)
	}
}

func causeOf(args []any) error {
	if len(args) == 0 {
		return nil
	}
	err, _ := args[0].(error)
	return err
}
