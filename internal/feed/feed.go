// Package feed — лента изменений: push-уведомления о вставках сообщений и об
// изменениях комнат. Два логических потока, как у исходного портала: грубый
// триггер «что-то изменилось в комнатах» и вставка сообщения с полной строкой.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/portalchat/internal/model"
)

// Каналы ленты. roomsChannel не несёт полезной нагрузки — только факт изменения.
const (
	roomsChannel    = "chat:rooms"
	messagesChannel = "chat:messages"
)

// Status — состояние подписки. Closed терминально и наступает только при явном Close.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusSubscribed   Status = "subscribed"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

// Handlers — колбэки подписчика. Доставка at-least-once; порядок между разными
// комнатами и относительно собственной оптимистичной вставки не гарантируется —
// дедупликация по id лежит на получателе.
type Handlers struct {
	OnRoomChange    func()
	OnMessageInsert func(roomID string, msg model.Message)
	OnStatus        func(Status)
}

func (h Handlers) status(s Status) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}

// Publisher публикует события ленты (серверная сторона: вызывается хранилищем после записи).
type Publisher interface {
	PublishRoomChange(ctx context.Context) error
	PublishMessageInsert(ctx context.Context, msg model.Message) error
}

// Source открывает подписки на ленту.
type Source interface {
	Subscribe(ctx context.Context, h Handlers) (*Subscription, error)
}

// Subscription — удерживаемый ресурс; обязателен явный Close при завершении
// сессии, иначе транспорт утекает.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{cancel: cancel, done: make(chan struct{})}
}

// Close освобождает подписку и блокируется до остановки доставки. Повторные вызовы безопасны.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// decodeMessage разбирает полную строку сообщения из события вставки.
func decodeMessage(payload []byte) (model.Message, error) {
	var m model.Message
	err := json.Unmarshal(payload, &m)
	return m, err
}

func encodeMessage(m model.Message) ([]byte, error) {
	return json.Marshal(m)
}

// dispatch маршрутизирует событие ленты по имени канала.
// Возвращает false, если канал неизвестен или полезная нагрузка не разобралась.
func dispatch(h Handlers, channel string, payload []byte) bool {
	switch channel {
	case roomsChannel:
		if h.OnRoomChange != nil {
			h.OnRoomChange()
		}
		return true
	case messagesChannel:
		m, err := decodeMessage(payload)
		if err != nil {
			return false
		}
		if h.OnMessageInsert != nil {
			h.OnMessageInsert(m.RoomID, m)
		}
		return true
	default:
		return false
	}
}
