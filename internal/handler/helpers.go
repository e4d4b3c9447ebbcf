// Package handler содержит HTTP-обработчики сервиса чата.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/store"
)

// writeJSON сериализует value в ответ со статусом status.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logger.Errorf("write json: %v", err)
	}
}

// writeError отдаёт ошибку в формате {"error": "..."}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError переводит ошибку хранилища в HTTP-статус.
func writeStoreError(w http.ResponseWriter, err error) {
	var vErr *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Reason)
	default:
		logger.Errorf("store: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
