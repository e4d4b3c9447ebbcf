package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/portalchat/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// GetUser возвращает идентичность текущего пользователя из контекста
// (устанавливается Identity). Пустой ID означает анонимный запрос.
func GetUser(ctx context.Context) model.Participant {
	u, _ := ctx.Value(userKey).(model.Participant)
	return u
}

// Identity читает идентичность из доверенных заголовков X-User-Id / X-User-Name /
// X-User-Email, которые выставляет слой аутентификации портала перед нами.
// Запросы без идентичности отклоняются. Сам этот сервис токены не разбирает —
// аутентификация является внешним компонентом.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if id == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		u := model.Participant{
			ID:    id,
			Name:  strings.TrimSpace(r.Header.Get("X-User-Name")),
			Email: strings.TrimSpace(r.Header.Get("X-User-Email")),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}
