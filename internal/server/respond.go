package server

import (
	"encoding/json"
	"net/http"

	"github.com/comigor/relaychat/internal/logger"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Prompt  string `json:"prompt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("failed to write response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
