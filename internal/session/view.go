package session

import "github.com/portalchat/internal/model"

// Phase — фаза жизненного цикла сессии.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseBootstrapping Phase = "bootstrapping"
	PhaseReady         Phase = "ready"
)

// RoomView — комната с производными аннотациями для списка чатов.
// LastMessage и UnreadCount пересчитываются при каждом обновлении,
// а не правятся по месту: это кеш, не источник истины.
type RoomView struct {
	Room        model.ChatRoom `json:"room"`
	LastMessage *model.Message `json:"last_message,omitempty"`
	UnreadCount int            `json:"unread_count"`
}

// Snapshot — полное состояние сессии для слоя интерфейса.
// Выдаётся колбэком при каждом изменении; слайсы — копии, владение у получателя.
type Snapshot struct {
	Phase        Phase           `json:"phase"`
	Rooms        []RoomView      `json:"rooms"`
	SelectedRoom string          `json:"selected_room,omitempty"`
	Messages     []model.Message `json:"messages"`
	Connection   Connectivity    `json:"connection"`
	Err          string          `json:"error,omitempty"`
}

func cloneRoomViews(views []RoomView) []RoomView {
	out := make([]RoomView, len(views))
	copy(out, views)
	for i := range out {
		if out[i].LastMessage != nil {
			m := *out[i].LastMessage
			out[i].LastMessage = &m
		}
	}
	return out
}

func cloneMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
