package handler

import (
	"net/http"
	"time"

	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/middleware"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/store"
)

// UsersHandler отдаёт список пользователей портала для выбора собеседника
// при создании чата.
type UsersHandler struct {
	store store.MessageStore
}

func NewUsersHandler(st store.MessageStore) *UsersHandler {
	return &UsersHandler{store: st}
}

// List обрабатывает GET /users: все пользователи, кроме запрашивающего.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("UsersHandler.List", time.Now())()

	me := middleware.GetUser(r.Context())
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]model.Participant, 0, len(users))
	for _, u := range users {
		if u.ID != me.ID {
			out = append(out, u)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
