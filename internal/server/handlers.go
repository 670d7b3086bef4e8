package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/comigor/relaychat/internal/chat"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/store"
)

const maxBodyBytes = 1 << 20

// chatRequest is the body of /chat-text and /chat-image.
type chatRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
}

type imageResponse struct {
	Success       bool   `json:"success"`
	ImageURL      string `json:"imageUrl"`
	Prompt        string `json:"prompt"`
	RevisedPrompt string `json:"revisedPrompt"`
	ChatID        string `json:"chatId"`
}

type historyRequest struct {
	ChatID string `json:"chatId"`
}

type sessionsResponse struct {
	Sessions []store.Session `json:"sessions"`
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

var errInvalidJSON = errors.New("request body must be valid JSON")

// decodeBody reads a JSON body into v. An empty body is accepted when
// allowEmpty is set and leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidJSON
	}
	return nil
}

func (s *Server) handleChatText(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := s.chat.BeginText(r.Context(), req.ChatID, req.Message)
	if err != nil {
		if chat.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.L.Error("failed to start text turn", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	w.Header().Set("X-Chat-Id", turn.ChatID)
	out := relay.NewSSEWriter(w)
	if err := out.Start(); err != nil {
		logger.L.Warn("failed to open event stream", "chat_id", turn.ChatID, "error", err)
		return
	}

	res := s.chat.StreamText(r.Context(), turn, out)
	logger.L.Info("text turn finished",
		"chat_id", turn.ChatID, "state", res.State, "message_id", res.MessageID, "error", res.Err)
}

func (s *Server) handleChatImage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.chat.GenerateImage(r.Context(), req.ChatID, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, imageResponse{
			Success:       true,
			ImageURL:      res.ImageURL,
			Prompt:        res.Prompt,
			RevisedPrompt: res.RevisedPrompt,
			ChatID:        res.ChatID,
		})
	case errors.Is(err, chat.ErrImageRejected):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "The image request was declined by the content policy. Please try rephrasing your prompt.",
			Prompt: res.Prompt,
		})
	case chat.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Prompt: res.Prompt})
	default:
		writeError(w, http.StatusBadGateway, "Image generation is unavailable right now. Please try again later.")
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if r.Method == http.MethodPost && chatID == "" {
		var req historyRequest
		if err := decodeBody(w, r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		chatID = req.ChatID
	}
	chatID = strings.TrimSpace(chatID)

	if chatID == "" {
		sessions, err := s.chat.Sessions(r.Context())
		if err != nil {
			logger.L.Error("failed to list sessions", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load chat history")
			return
		}
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
		return
	}

	msgs, err := s.chat.Messages(r.Context(), chatID)
	if err != nil {
		logger.L.Error("failed to list messages", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
