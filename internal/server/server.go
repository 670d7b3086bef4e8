// Package server exposes the chat service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/comigor/relaychat/internal/chat"
	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/ratelimit"
	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/store"
)

// ChatService is the part of chat.Service the handlers use.
type ChatService interface {
	BeginText(ctx context.Context, chatID, message string) (chat.Turn, error)
	StreamText(ctx context.Context, turn chat.Turn, out relay.Emitter) relay.Result
	GenerateImage(ctx context.Context, chatID, message string) (chat.ImageResult, error)
	Sessions(ctx context.Context) ([]store.Session, error)
	Messages(ctx context.Context, chatID string) ([]store.Message, error)
}

// Server is the HTTP front of the chat service.
type Server struct {
	cfg     config.ServerConfig
	chat    ChatService
	limiter *ratelimit.Limiter
	http    *http.Server
}

// New creates a Server. A nil limiter disables rate limiting.
func New(cfg config.ServerConfig, svc ChatService, limiter *ratelimit.Limiter) *Server {
	s := &Server{cfg: cfg, chat: svc, limiter: limiter}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/chat-text", allowMethods(http.HandlerFunc(s.handleChatText), http.MethodPost))
	mux.Handle("/chat-image", allowMethods(http.HandlerFunc(s.handleChatImage), http.MethodPost))
	mux.Handle("/get-chat-history", allowMethods(http.HandlerFunc(s.handleHistory), http.MethodGet, http.MethodPost))
	mux.Handle("/healthz", allowMethods(http.HandlerFunc(handleHealth), http.MethodGet))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return recoverer(requestLogger(cors(s.cfg.AllowedOrigin, rateLimit(s.limiter, mux))))
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	logger.L.Info("starting server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.L.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
