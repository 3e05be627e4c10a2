package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// StatusBody is the envelope every ingest response uses.
type StatusBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteJSON encodes data with the given status code. Encoding failures are
// logged since the header has already been sent.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// WriteStatus writes {"status": status, "message": message}.
func WriteStatus(w http.ResponseWriter, code int, status, message string) {
	WriteJSON(w, code, StatusBody{Status: status, Message: message})
}

// WriteError writes {"status":"error","message":message}.
func WriteError(w http.ResponseWriter, code int, message string) {
	WriteStatus(w, code, "error", message)
}
