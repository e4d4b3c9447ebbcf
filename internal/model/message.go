package model

import "time"

// Message — сообщение в комнате. ID назначается хранилищем и монотонно растёт,
// поэтому пара (Timestamp, ID) задаёт полный порядок сообщений внутри комнаты.
// SenderName — слепок имени на момент отправки: переименование пользователя
// не меняет историю.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Before сообщает, предшествует ли m сообщению other в порядке комнаты:
// по возрастанию Timestamp, при равенстве — по ID.
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return lessNumericID(m.ID, other.ID)
}

// lessNumericID сравнивает десятичные ID как числа: "9" < "10".
// ID без ведущих нулей, поэтому достаточно сравнить длину, затем лексикографически.
func lessNumericID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// SortMessages упорядочивает сообщения по (Timestamp, ID) по возрастанию.
// Используется после snapshot-загрузки; живые события вставляются уже по месту.
func SortMessages(msgs []Message) {
	// Вставками: списки из хранилища почти всегда уже упорядочены.
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Before(&msgs[j-1]); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}
