package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalchat/internal/feed"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/store"
)

var (
	anna  = model.Participant{ID: "u1", Name: "Анна"}
	boris = model.Participant{ID: "u2", Name: "Борис"}
	vera  = model.Participant{ID: "u3", Name: "Вера"}
)

func TestBootstrapAutoSelectsGeneral(t *testing.T) {
	bus := feed.NewBus()
	mem := store.NewMemory(bus)
	mem.SeedUsers(anna, boris)

	_, rec := startController(t, anna, mem, newFakeSource(bus), Config{})

	s := rec.waitFor(t, func(s Snapshot) bool {
		return s.Phase == PhaseReady && s.SelectedRoom != ""
	})
	v, ok := roomView(s, s.SelectedRoom)
	require.True(t, ok)
	assert.True(t, v.Room.IsGeneral(), "автоматически выбирается общий чат")
	assert.ElementsMatch(t, []string{"u1", "u2"}, v.Room.ParticipantIDs())

	rec.waitFor(t, func(s Snapshot) bool { return s.Connection == ConnectivityOnline })
}

func TestSendMessageEchoDeduplicated(t *testing.T) {
	bus := feed.NewBus()
	mem := store.NewMemory(bus)
	mem.SeedUsers(anna, boris)

	ctrl, rec := startController(t, anna, mem, newFakeSource(bus), Config{})
	rec.waitFor(t, func(s Snapshot) bool {
		return s.Phase == PhaseReady && s.SelectedRoom != ""
	})

	ctrl.SendMessage("привет")

	rec.waitFor(t, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Content == "привет"
	})

	// Эхо собственной отправки из ленты не создаёт дубликата.
	time.Sleep(100 * time.Millisecond)
	s, ok := rec.last()
	require.True(t, ok)
	count := 0
	for _, m := range s.Messages {
		if m.Content == "привет" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSendMessageWithoutSelection(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna)
	fs := &fakeStore{
		Memory: mem,
		ensureGeneralFn: func(ctx context.Context, allUserIDs []string) (string, error) {
			return "", errors.New("база недоступна")
		},
	}

	ctrl, rec := startController(t, anna, fs, newFakeSource(nil), Config{})
	rec.waitFor(t, func(s Snapshot) bool { return s.Err != "" })

	ctrl.SendMessage("никому")
	rec.waitFor(t, func(s Snapshot) bool { return s.Err == "комната не выбрана" })
}

func TestSelectRoomLastWins(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris)
	ctx := context.Background()

	roomA, err := mem.CreateRoom(ctx, "А", []string{"u1", "u2"}, model.RoomKindGroup)
	require.NoError(t, err)
	roomB, err := mem.CreateRoom(ctx, "Б", []string{"u1", "u2"}, model.RoomKindGroup)
	require.NoError(t, err)
	mB, err := mem.AppendMessage(ctx, roomB.ID, "u2", "Борис", "я в Б")
	require.NoError(t, err)

	var gate atomic.Bool
	blockA := make(chan struct{})
	fs := &fakeStore{
		Memory: mem,
		listMessagesFn: func(ctx context.Context, roomID string) ([]model.Message, error) {
			if gate.Load() && roomID == roomA.ID {
				<-blockA
			}
			return mem.ListMessages(ctx, roomID)
		},
	}

	ctrl, rec := startController(t, anna, fs, newFakeSource(nil), Config{})
	rec.waitFor(t, func(s Snapshot) bool {
		return s.Phase == PhaseReady && s.SelectedRoom != ""
	})

	// Загрузка комнаты А зависает, выбор Б приходит раньше её результата.
	gate.Store(true)
	ctrl.SelectRoom(roomA.ID)
	rec.waitFor(t, func(s Snapshot) bool { return s.SelectedRoom == roomA.ID })
	ctrl.SelectRoom(roomB.ID)
	rec.waitFor(t, func(s Snapshot) bool {
		return s.SelectedRoom == roomB.ID && len(s.Messages) == 1
	})

	// Опоздавший результат устаревшего выбора отбрасывается.
	close(blockA)
	time.Sleep(100 * time.Millisecond)
	s, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, roomB.ID, s.SelectedRoom)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, mB.ID, s.Messages[0].ID)
}

func TestCreateChatReusesDirectRoom(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris, vera)
	ctx := context.Background()

	// Участники в обратном порядке: поиск не должен зависеть от него.
	existing, err := mem.CreateRoom(ctx, "", []string{"u2", "u1"}, model.RoomKindDirect)
	require.NoError(t, err)

	ctrl, rec := startController(t, anna, mem, newFakeSource(nil), Config{})
	rec.waitFor(t, func(s Snapshot) bool { return s.Phase == PhaseReady && s.SelectedRoom != "" })

	ctrl.CreateChat("", []string{"u2"}, model.RoomKindDirect)
	rec.waitFor(t, func(s Snapshot) bool { return s.SelectedRoom == existing.ID })

	rooms, err := mem.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2, "общий чат и существующий личный, без дубликата")
}

func TestCreateChatGroup(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris, vera)

	ctrl, rec := startController(t, anna, mem, newFakeSource(nil), Config{})
	ready := rec.waitFor(t, func(s Snapshot) bool { return s.Phase == PhaseReady && s.SelectedRoom != "" })
	generalID := ready.SelectedRoom

	ctrl.CreateChat("Проект", []string{"u2", "u3"}, model.RoomKindGroup)
	s := rec.waitFor(t, func(s Snapshot) bool {
		return s.SelectedRoom != "" && s.SelectedRoom != generalID
	})
	v, ok := roomView(s, s.SelectedRoom)
	require.True(t, ok)
	assert.Equal(t, "Проект", v.Room.Name)
	// Создатель включается в участники автоматически.
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, v.Room.ParticipantIDs())
}

func TestIncomingInsertUnselectedRoom(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris)
	roomB, err := mem.CreateRoom(context.Background(), "", []string{"u1", "u2"}, model.RoomKindDirect)
	require.NoError(t, err)

	src := newFakeSource(nil)
	_, rec := startController(t, anna, mem, src, Config{})
	rec.waitFor(t, func(s Snapshot) bool { return s.Phase == PhaseReady && s.SelectedRoom != "" })

	src.handlers().OnMessageInsert(roomB.ID, model.Message{
		ID: "500", RoomID: roomB.ID, SenderID: "u2", SenderName: "Борис",
		Content: "ты здесь?", Timestamp: time.Now().UTC(),
	})

	s := rec.waitFor(t, func(s Snapshot) bool {
		v, ok := roomView(s, roomB.ID)
		return ok && v.UnreadCount == 1
	})
	v, _ := roomView(s, roomB.ID)
	require.NotNil(t, v.LastMessage)
	assert.Equal(t, "ты здесь?", v.LastMessage.Content)
	// Видимый список сообщений принадлежит выбранной комнате и не меняется.
	assert.Empty(t, s.Messages)
}

func TestIncomingInsertSelectedRoomReadImmediately(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris)

	src := newFakeSource(nil)
	_, rec := startController(t, anna, mem, src, Config{})
	ready := rec.waitFor(t, func(s Snapshot) bool { return s.Phase == PhaseReady && s.SelectedRoom != "" })
	generalID := ready.SelectedRoom

	src.handlers().OnMessageInsert(generalID, model.Message{
		ID: "7", RoomID: generalID, SenderID: "u2", SenderName: "Борис",
		Content: "всем привет", Timestamp: time.Now().UTC(),
	})

	s := rec.waitFor(t, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].ID == "7"
	})
	assert.True(t, s.Messages[0].Read, "входящее в открытую комнату сразу прочитано")
	v, ok := roomView(s, generalID)
	require.True(t, ok)
	assert.Zero(t, v.UnreadCount)
}

func TestFeedInsertsOrderedAndDeduplicated(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris)

	src := newFakeSource(nil)
	_, rec := startController(t, anna, mem, src, Config{})
	ready := rec.waitFor(t, func(s Snapshot) bool { return s.Phase == PhaseReady && s.SelectedRoom != "" })
	generalID := ready.SelectedRoom

	base := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)
	h := src.handlers()
	// Позднее сообщение приходит первым, затем раннее, затем дубликат позднего.
	h.OnMessageInsert(generalID, model.Message{ID: "12", RoomID: generalID, SenderID: "u2", Content: "второе", Timestamp: base.Add(time.Minute)})
	h.OnMessageInsert(generalID, model.Message{ID: "11", RoomID: generalID, SenderID: "u2", Content: "первое", Timestamp: base})
	h.OnMessageInsert(generalID, model.Message{ID: "12", RoomID: generalID, SenderID: "u2", Content: "второе", Timestamp: base.Add(time.Minute)})

	rec.waitFor(t, func(s Snapshot) bool { return len(s.Messages) == 2 })
	time.Sleep(100 * time.Millisecond)

	s, ok := rec.last()
	require.True(t, ok)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "11", s.Messages[0].ID)
	assert.Equal(t, "12", s.Messages[1].ID)
}

func TestDegradedPollWhileDisconnected(t *testing.T) {
	mem := store.NewMemory(nil)
	mem.SeedUsers(anna, boris)

	var listRoomsCalls atomic.Int64
	fs := &fakeStore{
		Memory: mem,
		listRoomsFn: func(ctx context.Context) ([]model.ChatRoom, error) {
			listRoomsCalls.Add(1)
			return mem.ListRooms(ctx)
		},
	}

	src := newFakeSource(nil)
	_, rec := startController(t, anna, fs, src, Config{PollInterval: 20 * time.Millisecond})
	rec.waitFor(t, func(s Snapshot) bool {
		return s.Phase == PhaseReady && s.Connection == ConnectivityOnline
	})

	baseline := listRoomsCalls.Load()
	src.handlers().OnStatus(feed.StatusDisconnected)
	rec.waitFor(t, func(s Snapshot) bool { return s.Connection == ConnectivityOffline })

	// Пока лента отключена, список комнат перечитывается по таймеру.
	deadline := time.Now().Add(3 * time.Second)
	for listRoomsCalls.Load() < baseline+2 {
		if time.Now().After(deadline) {
			t.Fatalf("деградационный опрос не запустился: %d вызовов", listRoomsCalls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	src.handlers().OnStatus(feed.StatusSubscribed)
	rec.waitFor(t, func(s Snapshot) bool { return s.Connection == ConnectivityOnline })

	// После восстановления опрос прекращается.
	time.Sleep(100 * time.Millisecond)
	settled := listRoomsCalls.Load()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, settled, listRoomsCalls.Load())
}
