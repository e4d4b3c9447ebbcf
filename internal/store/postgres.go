package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portalchat/internal/feed"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
)

// publishTimeout ограничивает публикацию события ленты после успешной записи.
const publishTimeout = 3 * time.Second

// Postgres реализует MessageStore поверх pgxpool. После успешной записи
// публикует событие в ленту изменений (если pub != nil); ошибка публикации
// не откатывает запись — сессии добирают состояние периодическим обновлением.
type Postgres struct {
	pool *pgxpool.Pool
	pub  feed.Publisher
}

func NewPostgres(pool *pgxpool.Pool, pub feed.Publisher) *Postgres {
	return &Postgres{pool: pool, pub: pub}
}

func (s *Postgres) ListRooms(ctx context.Context) ([]model.ChatRoom, error) {
	defer logger.DeferLogDuration("store.ListRooms", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, chat_type, created_at
		 FROM chats
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, storeErr("ListRooms", err)
	}
	defer rows.Close()

	rooms := make([]model.ChatRoom, 0, 16)
	index := make(map[string]int, 16)
	for rows.Next() {
		var r model.ChatRoom
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.CreatedAt); err != nil {
			return nil, storeErr("ListRooms", err)
		}
		r.Participants = make([]model.Participant, 0, 4)
		index[r.ID] = len(rooms)
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("ListRooms", err)
	}

	// Участники одним запросом; пользователь мог быть удалён из справочника —
	// тогда остаётся голый идентификатор без имени.
	prows, err := s.pool.Query(ctx,
		`SELECT cp.chat_id, cp.user_id, COALESCE(u.name, ''), COALESCE(u.email, '')
		 FROM chat_participants cp
		 LEFT JOIN users u ON u.id = cp.user_id`,
	)
	if err != nil {
		return nil, storeErr("ListRooms", err)
	}
	defer prows.Close()
	for prows.Next() {
		var chatID string
		var p model.Participant
		if err := prows.Scan(&chatID, &p.ID, &p.Name, &p.Email); err != nil {
			return nil, storeErr("ListRooms", err)
		}
		if i, ok := index[chatID]; ok {
			rooms[i].Participants = append(rooms[i].Participants, p)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, storeErr("ListRooms", err)
	}
	return rooms, nil
}

func (s *Postgres) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("store.ListMessages", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, sender_name, content, timestamp, read
		 FROM messages
		 WHERE chat_id = $1
		 ORDER BY timestamp ASC, id ASC`, roomID,
	)
	if err != nil {
		return nil, storeErr("ListMessages", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		var id int64
		if err := rows.Scan(&id, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content, &m.Timestamp, &m.Read); err != nil {
			return nil, storeErr("ListMessages", err)
		}
		m.ID = strconv.FormatInt(id, 10)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("ListMessages", err)
	}
	return msgs, nil
}

func (s *Postgres) AppendMessage(ctx context.Context, roomID, senderID, senderName, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("store.AppendMessage", time.Now())()
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Reason: "пустое сообщение"}
	}

	m := &model.Message{
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, sender_id, sender_name, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, timestamp`,
		roomID, senderID, senderName, content,
	).Scan(&id, &m.Timestamp)
	if err != nil {
		return nil, storeErr("AppendMessage", err)
	}
	m.ID = strconv.FormatInt(id, 10)

	s.publishMessage(*m)
	return m, nil
}

func (s *Postgres) CreateRoom(ctx context.Context, name string, participantIDs []string, kind model.RoomKind) (*model.ChatRoom, error) {
	defer logger.DeferLogDuration("store.CreateRoom", time.Now())()
	if len(participantIDs) == 0 {
		return nil, &ValidationError{Reason: "пустой список участников"}
	}

	r := &model.ChatRoom{
		ID:        uuid.New().String(),
		Name:      name,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("CreateRoom", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (id, name, chat_type, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.Name, r.Kind, r.CreatedAt,
	); err != nil {
		return nil, storeErr("CreateRoom", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id)
		 SELECT $1, unnest($2::text[])
		 ON CONFLICT DO NOTHING`,
		r.ID, participantIDs,
	); err != nil {
		return nil, storeErr("CreateRoom", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("CreateRoom", err)
	}

	r.Participants, err = s.loadParticipants(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	s.publishRoomChange()
	return r, nil
}

func (s *Postgres) MarkRead(ctx context.Context, roomID, readerID string) error {
	defer logger.DeferLogDuration("store.MarkRead", time.Now())()
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET read = true
		 WHERE chat_id = $1 AND sender_id != $2 AND read = false`,
		roomID, readerID,
	)
	if err != nil {
		return storeErr("MarkRead", err)
	}
	return nil
}

func (s *Postgres) EnsureGeneralRoom(ctx context.Context, allUserIDs []string) (string, error) {
	defer logger.DeferLogDuration("store.EnsureGeneralRoom", time.Now())()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", storeErr("EnsureGeneralRoom", err)
	}
	defer tx.Rollback(ctx)

	var roomID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM chats
		 WHERE chat_type = $1 AND name = $2
		 ORDER BY created_at
		 LIMIT 1`,
		model.RoomKindGroup, model.GeneralRoomName,
	).Scan(&roomID)
	created := false
	if errors.Is(err, pgx.ErrNoRows) {
		roomID = uuid.New().String()
		created = true
		if _, err := tx.Exec(ctx,
			`INSERT INTO chats (id, name, chat_type, created_at) VALUES ($1, $2, $3, $4)`,
			roomID, model.GeneralRoomName, model.RoomKindGroup, time.Now().UTC(),
		); err != nil {
			return "", storeErr("EnsureGeneralRoom", err)
		}
	} else if err != nil {
		return "", storeErr("EnsureGeneralRoom", err)
	}

	// Состав участников заменяется целиком, не сливается: операция идемпотентна
	// и подхватывает пользователей, появившихся после создания комнаты.
	if _, err := tx.Exec(ctx,
		`DELETE FROM chat_participants WHERE chat_id = $1 AND user_id != ALL($2::text[])`,
		roomID, allUserIDs,
	); err != nil {
		return "", storeErr("EnsureGeneralRoom", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id)
		 SELECT $1, unnest($2::text[])
		 ON CONFLICT DO NOTHING`,
		roomID, allUserIDs,
	); err != nil {
		return "", storeErr("EnsureGeneralRoom", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", storeErr("EnsureGeneralRoom", err)
	}

	if created {
		s.publishRoomChange()
	}
	return roomID, nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]model.Participant, error) {
	defer logger.DeferLogDuration("store.ListUsers", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(email, '') FROM users ORDER BY name`,
	)
	if err != nil {
		return nil, storeErr("ListUsers", err)
	}
	defer rows.Close()

	users := make([]model.Participant, 0, 16)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, storeErr("ListUsers", err)
		}
		users = append(users, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("ListUsers", err)
	}
	return users, nil
}

func (s *Postgres) loadParticipants(ctx context.Context, roomID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cp.user_id, COALESCE(u.name, ''), COALESCE(u.email, '')
		 FROM chat_participants cp
		 LEFT JOIN users u ON u.id = cp.user_id
		 WHERE cp.chat_id = $1`, roomID,
	)
	if err != nil {
		return nil, storeErr("loadParticipants", err)
	}
	defer rows.Close()

	parts := make([]model.Participant, 0, 4)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, storeErr("loadParticipants", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("loadParticipants", err)
	}
	return parts, nil
}

func (s *Postgres) publishMessage(m model.Message) {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.pub.PublishMessageInsert(ctx, m); err != nil {
		logger.Errorf("store: публикация вставки сообщения id=%s: %v", m.ID, err)
	}
}

func (s *Postgres) publishRoomChange() {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.pub.PublishRoomChange(ctx); err != nil {
		logger.Errorf("store: публикация изменения комнат: %v", err)
	}
}
