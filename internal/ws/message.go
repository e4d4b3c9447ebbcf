package ws

import (
	"time"

	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/session"
)

// OpType — операции, которые клиент присылает по WebSocket.
type OpType string

const (
	OpSelectRoom  OpType = "select_room"
	OpSendMessage OpType = "send_message"
	OpCreateChat  OpType = "create_chat"
)

// IncomingOp — операция от клиента.
type IncomingOp struct {
	Type OpType `json:"type"`

	// select_room
	RoomID string `json:"room_id,omitempty"`

	// send_message
	Content string `json:"content,omitempty"`

	// create_chat
	Name           string         `json:"name,omitempty"`
	ParticipantIDs []string       `json:"participant_ids,omitempty"`
	Kind           model.RoomKind `json:"kind,omitempty"`
}

type EventType string

const (
	// EventState несёт полный Snapshot сессии при каждом изменении состояния.
	EventState EventType = "state"
	EventError EventType = "error"
)

// OutgoingEvent — событие сервера клиенту.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// roomPreview — строка списка чатов с производными полями отображения.
type roomPreview struct {
	Title  string `json:"title"`
	LastAt string `json:"last_at,omitempty"`
}

// statePayload — Snapshot плюс готовые к показу производные: сообщения,
// сгруппированные по дням, и заголовки комнат глазами пользователя.
type statePayload struct {
	session.Snapshot
	Days     []model.DayGroup `json:"days"`
	Previews []roomPreview    `json:"previews"`
}

func newStatePayload(s session.Snapshot, viewerID string, now time.Time) statePayload {
	previews := make([]roomPreview, 0, len(s.Rooms))
	for _, v := range s.Rooms {
		p := roomPreview{Title: v.Room.DisplayName(viewerID)}
		if v.LastMessage != nil {
			p.LastAt = model.FormatTime(v.LastMessage.Timestamp)
		}
		previews = append(previews, p)
	}
	return statePayload{
		Snapshot: s,
		Days:     model.GroupByDay(s.Messages, now),
		Previews: previews,
	}
}
