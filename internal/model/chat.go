package model

import "time"

type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

// GeneralRoomName — имя общего чата, в котором состоят все сотрудники портала.
const GeneralRoomName = "Общий чат"

// Participant — денормализованная запись участника комнаты (кеш для отображения).
// Каноничная форма участника; там, где нужны только идентификаторы, используется ParticipantIDs.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type ChatRoom struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Kind         RoomKind      `json:"type"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ParticipantIDs возвращает идентификаторы всех участников комнаты.
func (r *ChatRoom) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// HasParticipant сообщает, состоит ли пользователь в комнате.
func (r *ChatRoom) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// IsGeneral сообщает, является ли комната выделенным общим чатом.
func (r *ChatRoom) IsGeneral() bool {
	return r.Kind == RoomKindGroup && r.Name == GeneralRoomName
}

// IsDirectBetween сообщает, является ли комната личным чатом ровно между двумя
// пользователями (порядок не важен).
func (r *ChatRoom) IsDirectBetween(userID1, userID2 string) bool {
	if r.Kind != RoomKindDirect || len(r.Participants) != 2 {
		return false
	}
	a, b := r.Participants[0].ID, r.Participants[1].ID
	return (a == userID1 && b == userID2) || (a == userID2 && b == userID1)
}

// DisplayName возвращает имя комнаты для показа пользователю viewerID.
// Пустое имя у личного чата означает "взять имя собеседника".
func (r *ChatRoom) DisplayName(viewerID string) string {
	if r.Name != "" {
		return r.Name
	}
	if r.Kind == RoomKindDirect {
		for _, p := range r.Participants {
			if p.ID != viewerID {
				return p.Name
			}
		}
		return "Неизвестный пользователь"
	}
	return "Групповой чат"
}
