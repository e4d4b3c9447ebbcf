package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/middleware"
	"github.com/portalchat/internal/ws"
)

// WSHandler апгрейдит HTTP-запрос до WebSocket и передаёт соединение шлюзу.
type WSHandler struct {
	gateway  *ws.Gateway
	upgrader websocket.Upgrader
}

func NewWSHandler(gateway *ws.Gateway, allowedOrigins []string) *WSHandler {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &WSHandler{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// ServeHTTP обрабатывает GET /ws. Идентичность пользователя должна быть
// установлена middleware.Identity до апгрейда.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user.ID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту.
		logger.Errorf("ws upgrade user=%s: %v", user.ID, err)
		return
	}
	h.gateway.Handle(conn, user)
}
