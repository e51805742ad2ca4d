package http

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON отправляет ответ в JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}
