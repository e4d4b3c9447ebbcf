package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/portalchat/internal/feed"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/store"
)

// fakeStore оборачивает Memory-хранилище и позволяет подменять отдельные
// методы в тестах (блокировки, ошибки, счётчики вызовов).
type fakeStore struct {
	*store.Memory

	listRoomsFn     func(ctx context.Context) ([]model.ChatRoom, error)
	listMessagesFn  func(ctx context.Context, roomID string) ([]model.Message, error)
	ensureGeneralFn func(ctx context.Context, allUserIDs []string) (string, error)
}

func (f *fakeStore) ListRooms(ctx context.Context) ([]model.ChatRoom, error) {
	if f.listRoomsFn != nil {
		return f.listRoomsFn(ctx)
	}
	return f.Memory.ListRooms(ctx)
}

func (f *fakeStore) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, roomID)
	}
	return f.Memory.ListMessages(ctx, roomID)
}

func (f *fakeStore) EnsureGeneralRoom(ctx context.Context, allUserIDs []string) (string, error) {
	if f.ensureGeneralFn != nil {
		return f.ensureGeneralFn(ctx, allUserIDs)
	}
	return f.Memory.EnsureGeneralRoom(ctx, allUserIDs)
}

// fakeSource делегирует подписку внутрипроцессной шине и запоминает обработчики,
// чтобы тест мог напрямую подавать события ленты (статусы, вставки).
type fakeSource struct {
	bus *feed.Bus

	mu sync.Mutex
	h  feed.Handlers
}

func newFakeSource(bus *feed.Bus) *fakeSource {
	if bus == nil {
		bus = feed.NewBus()
	}
	return &fakeSource{bus: bus}
}

func (f *fakeSource) Subscribe(ctx context.Context, h feed.Handlers) (*feed.Subscription, error) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	return f.bus.Subscribe(ctx, h)
}

func (f *fakeSource) handlers() feed.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

// recorder собирает снапшоты сессии из колбэка notify.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) push(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

// waitFor ждёт снапшот, удовлетворяющий условию (от новых к старым).
func (r *recorder) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for i := len(r.snaps) - 1; i >= 0; i-- {
			if cond(r.snaps[i]) {
				s := r.snaps[i]
				r.mu.Unlock()
				return s
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	last, _ := r.last()
	t.Fatalf("снапшот с нужным условием не получен, последний: %+v", last)
	return Snapshot{}
}

// startController запускает цикл контроллера и регистрирует остановку в cleanup.
func startController(t *testing.T, user model.Participant, st store.MessageStore, src feed.Source, cfg Config) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	ctrl := New(user, st, src, rec.push, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)

	t.Cleanup(func() {
		cancel()
		select {
		case <-ctrl.Done():
		case <-time.After(3 * time.Second):
			t.Error("контроллер не остановился")
		}
	})
	return ctrl, rec
}

func roomView(s Snapshot, roomID string) (RoomView, bool) {
	for _, v := range s.Rooms {
		if v.Room.ID == roomID {
			return v, true
		}
	}
	return RoomView{}, false
}
