// Package store — единственный источник истины по комнатам и сообщениям.
// Postgres-реализация используется сервисом, Memory — тестами и режимом -dev.
package store

import (
	"context"

	"github.com/portalchat/internal/model"
)

// MessageStore — CRUD-фасад над комнатами и сообщениями.
// Ни одна операция не ретраит внутри себя; ошибки хранилища оборачиваются в StoreError.
type MessageStore interface {
	// ListRooms возвращает все комнаты, новые первыми.
	ListRooms(ctx context.Context) ([]model.ChatRoom, error)

	// ListMessages возвращает все сообщения комнаты по возрастанию (Timestamp, ID).
	// Список никогда не усекается.
	ListMessages(ctx context.Context, roomID string) ([]model.Message, error)

	// AppendMessage сохраняет сообщение и возвращает запись с назначенными
	// хранилищем id и временем — вызывающая сторона обязана использовать её,
	// а не собственную копию. Пустой (после обрезки пробелов) текст — ValidationError.
	AppendMessage(ctx context.Context, roomID, senderID, senderName, content string) (*model.Message, error)

	// CreateRoom создаёт комнату. Пустой список участников — ValidationError.
	// Дедупликацию личных чатов операция не делает (см. session.Controller.CreateChat).
	CreateRoom(ctx context.Context, name string, participantIDs []string, kind model.RoomKind) (*model.ChatRoom, error)

	// MarkRead помечает прочитанными все сообщения комнаты, отправленные не readerID.
	// Идемпотентна.
	MarkRead(ctx context.Context, roomID, readerID string) error

	// EnsureGeneralRoom находит общий чат или создаёт его; состав участников
	// при каждом вызове заменяется на allUserIDs целиком (самовосстановление
	// при появлении новых пользователей). Возвращает id комнаты.
	EnsureGeneralRoom(ctx context.Context, allUserIDs []string) (string, error)

	// ListUsers возвращает всех пользователей портала (для состава общего чата).
	ListUsers(ctx context.Context) ([]model.Participant, error)
}
