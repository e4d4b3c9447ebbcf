package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portalchat/internal/feed"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
)

// Memory реализует MessageStore в памяти — для тестов и локальной разработки.
// ID сообщений назначаются монотонным счётчиком, как bigserial в Postgres.
type Memory struct {
	mu        sync.Mutex
	rooms     []model.ChatRoom
	messages  map[string][]model.Message // roomID -> упорядоченный список
	users     []model.Participant
	nextMsgID int64
	pub       feed.Publisher

	// now подменяется в тестах для управляемых таймстемпов.
	now func() time.Time
}

func NewMemory(pub feed.Publisher) *Memory {
	return &Memory{
		messages:  make(map[string][]model.Message),
		nextMsgID: 1,
		pub:       pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SeedUsers наполняет справочник пользователей (в Postgres-варианте это таблица users).
func (s *Memory) SeedUsers(users ...model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, users...)
}

func (s *Memory) ListRooms(ctx context.Context) ([]model.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatRoom, len(s.rooms))
	copy(out, s.rooms)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Memory) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[roomID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Memory) AppendMessage(ctx context.Context, roomID, senderID, senderName, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Reason: "пустое сообщение"}
	}

	s.mu.Lock()
	m := model.Message{
		ID:         strconv.FormatInt(s.nextMsgID, 10),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Timestamp:  s.now(),
	}
	s.nextMsgID++
	s.messages[roomID] = append(s.messages[roomID], m)
	s.mu.Unlock()

	s.publishMessage(m)
	return &m, nil
}

func (s *Memory) CreateRoom(ctx context.Context, name string, participantIDs []string, kind model.RoomKind) (*model.ChatRoom, error) {
	if len(participantIDs) == 0 {
		return nil, &ValidationError{Reason: "пустой список участников"}
	}

	s.mu.Lock()
	r := model.ChatRoom{
		ID:           uuid.New().String(),
		Name:         name,
		Kind:         kind,
		Participants: s.resolveParticipants(participantIDs),
		CreatedAt:    s.now(),
	}
	s.rooms = append(s.rooms, r)
	s.mu.Unlock()

	s.publishRoomChange()
	return &r, nil
}

func (s *Memory) MarkRead(ctx context.Context, roomID, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[roomID]
	for i := range msgs {
		if msgs[i].SenderID != readerID {
			msgs[i].Read = true
		}
	}
	return nil
}

func (s *Memory) EnsureGeneralRoom(ctx context.Context, allUserIDs []string) (string, error) {
	s.mu.Lock()
	for i := range s.rooms {
		if s.rooms[i].IsGeneral() {
			// Состав заменяется целиком при каждом вызове.
			s.rooms[i].Participants = s.resolveParticipants(allUserIDs)
			id := s.rooms[i].ID
			s.mu.Unlock()
			return id, nil
		}
	}
	r := model.ChatRoom{
		ID:           uuid.New().String(),
		Name:         model.GeneralRoomName,
		Kind:         model.RoomKindGroup,
		Participants: s.resolveParticipants(allUserIDs),
		CreatedAt:    s.now(),
	}
	s.rooms = append(s.rooms, r)
	s.mu.Unlock()

	s.publishRoomChange()
	return r.ID, nil
}

func (s *Memory) ListUsers(ctx context.Context) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Participant, len(s.users))
	copy(out, s.users)
	return out, nil
}

// resolveParticipants переводит идентификаторы в записи участников по справочнику.
// Вызывается под mu.
func (s *Memory) resolveParticipants(ids []string) []model.Participant {
	parts := make([]model.Participant, 0, len(ids))
	for _, id := range ids {
		found := false
		for _, u := range s.users {
			if u.ID == id {
				parts = append(parts, u)
				found = true
				break
			}
		}
		if !found {
			parts = append(parts, model.Participant{ID: id})
		}
	}
	return parts
}

func (s *Memory) publishMessage(m model.Message) {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.pub.PublishMessageInsert(ctx, m); err != nil {
		logger.Errorf("store: публикация вставки сообщения id=%s: %v", m.ID, err)
	}
}

func (s *Memory) publishRoomChange() {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.pub.PublishRoomChange(ctx); err != nil {
		logger.Errorf("store: публикация изменения комнат: %v", err)
	}
}
