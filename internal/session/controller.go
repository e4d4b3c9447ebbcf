// Package session — оркестрация одной клиентской сессии чата: слияние
// snapshot-загрузок с живыми событиями ленты, дедупликация, порядок сообщений
// и выбор комнаты. Единственный компонент, с которым разговаривает слой
// интерфейса.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/portalchat/internal/feed"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/store"
)

const opsBufferSize = 128

// Config — таймауты и интервалы контроллера.
type Config struct {
	// OpTimeout ограничивает каждый вызов хранилища; дедлайн всплывает как StoreError.
	OpTimeout time.Duration
	// PollInterval — период деградационного опроса при отключённой ленте.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	return c
}

// Controller — авторитетное состояние сессии одного клиента.
//
// Все мутации состояния сериализованы на одном цикле Run: публичные методы и
// колбэки ленты лишь ставят операции в очередь и не блокируются. Гонка между
// подтверждением собственной отправки и её эхом из ленты решается
// дедупликацией по id, гонка выборов комнат — порядковым номером выбора.
type Controller struct {
	user   model.Participant
	store  store.MessageStore
	source feed.Source
	notify func(Snapshot)
	cfg    Config

	ops      chan func()
	stopping chan struct{}
	done     chan struct{}

	// Всё ниже принадлежит циклу Run и меняется только на нём.
	ctx       context.Context
	phase     Phase
	rooms     []RoomView
	selected  string
	selectSeq uint64
	messages  []model.Message
	monitor   Monitor
	sub       *feed.Subscription
	lastErr   string
	poll      *time.Ticker
}

// New создаёт контроллер сессии для пользователя user. notify вызывается на
// цикле контроллера при каждом изменении состояния; затягивать в нём нельзя.
func New(user model.Participant, st store.MessageStore, source feed.Source, notify func(Snapshot), cfg Config) *Controller {
	if notify == nil {
		notify = func(Snapshot) {}
	}
	return &Controller{
		user:     user,
		store:    st,
		source:   source,
		notify:   notify,
		cfg:      cfg.withDefaults(),
		ops:      make(chan func(), opsBufferSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		phase:    PhaseUninitialized,
		monitor:  NewMonitor(),
	}
}

// Run запускает цикл сессии и блокируется до отмены ctx.
// При выходе подписка на ленту освобождается.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	c.ctx = ctx

	c.phase = PhaseBootstrapping
	c.publish()
	go c.bootstrap()

	for {
		var pollC <-chan time.Time
		if c.poll != nil {
			pollC = c.poll.C
		}
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case op := <-c.ops:
			op()
		case <-pollC:
			c.pollRefresh()
		}
	}
}

// Done закрывается после полной остановки цикла.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// post ставит операцию в очередь цикла. При остановке сессии операция
// отбрасывается — состояние уже никому не нужно.
func (c *Controller) post(op func()) {
	select {
	case c.ops <- op:
	case <-c.stopping:
	}
}

func (c *Controller) teardown() {
	close(c.stopping)
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

// --- Операции интерфейса ---

// SelectRoom загружает сообщения комнаты и делает её выбранной. Безопасно
// вызывать до завершения предыдущей загрузки: побеждает последний вызов,
// опоздавший результат отбрасывается по порядковому номеру.
func (c *Controller) SelectRoom(roomID string) {
	c.post(func() { c.doSelect(roomID) })
}

// SendMessage отправляет текст в выбранную комнату. Подтверждённая хранилищем
// запись сразу вставляется в локальный список; эхо из ленты поглощается
// дедупликацией по id.
func (c *Controller) SendMessage(content string) {
	c.post(func() {
		if c.selected == "" {
			c.fail("комната не выбрана")
			return
		}
		roomID := c.selected
		go func() {
			ctx, cancel := c.opCtx()
			defer cancel()
			m, err := c.store.AppendMessage(ctx, roomID, c.user.ID, c.user.Name, content)
			c.post(func() {
				if err != nil {
					c.reportErr(err)
					return
				}
				if roomID == c.selected {
					c.insertMessage(*m)
				}
				c.bumpAnnotation(*m)
				c.clearErr()
				c.publish()
			})
		}()
	})
}

// CreateChat создаёт комнату. Для личного чата сперва ищется существующая
// комната с той же парой участников (в любом порядке) по локальному списку —
// найденная выбирается вместо создания дубликата. Одновременное создание
// двумя клиентами может дать две комнаты; это принятое ограничение.
func (c *Controller) CreateChat(name string, participantIDs []string, kind model.RoomKind) {
	c.post(func() {
		ids := withUser(participantIDs, c.user.ID)
		if kind == model.RoomKindDirect && len(ids) == 2 {
			other := ids[0]
			if other == c.user.ID {
				other = ids[1]
			}
			for i := range c.rooms {
				if c.rooms[i].Room.IsDirectBetween(c.user.ID, other) {
					c.doSelect(c.rooms[i].Room.ID)
					return
				}
			}
		}
		go func() {
			ctx, cancel := c.opCtx()
			defer cancel()
			r, err := c.store.CreateRoom(ctx, name, ids, kind)
			c.post(func() {
				if err != nil {
					c.reportErr(err)
					return
				}
				if c.roomIndex(r.ID) < 0 {
					c.rooms = append([]RoomView{{Room: *r}}, c.rooms...)
				}
				c.clearErr()
				c.doSelect(r.ID)
			})
		}()
	})
}

// --- Начальная загрузка ---

func (c *Controller) bootstrap() {
	defer logger.DeferLogDuration("session.bootstrap", time.Now())()

	users, err := c.listUsers()
	if err != nil {
		c.post(func() { c.reportErr(err) })
		return
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	ctx, cancel := c.opCtx()
	_, err = c.store.EnsureGeneralRoom(ctx, ids)
	cancel()
	if err != nil {
		c.post(func() { c.reportErr(err) })
		return
	}

	views, err := c.loadRoomViews()
	if err != nil {
		c.post(func() { c.reportErr(err) })
		return
	}

	sub, err := c.source.Subscribe(c.ctx, feed.Handlers{
		OnRoomChange: func() {
			c.post(func() { c.refreshRooms() })
		},
		OnMessageInsert: func(roomID string, msg model.Message) {
			c.post(func() { c.applyInsert(roomID, msg) })
		},
		OnStatus: func(st feed.Status) {
			c.post(func() { c.applyStatus(st) })
		},
	})
	if err != nil {
		c.post(func() { c.reportErr(err) })
		return
	}

	c.post(func() {
		c.sub = sub
		c.rooms = views
		c.phase = PhaseReady
		c.clearErr()
		c.publish()
		// Общий чат выбирается автоматически, если загрузился.
		for i := range views {
			if views[i].Room.IsGeneral() {
				c.doSelect(views[i].Room.ID)
				return
			}
		}
	})
}

func (c *Controller) listUsers() ([]model.Participant, error) {
	ctx, cancel := c.opCtx()
	defer cancel()
	return c.store.ListUsers(ctx)
}

// loadRoomViews загружает список комнат и аннотирует каждую последним
// сообщением и числом непрочитанных (по одному просмотру сообщений на комнату).
func (c *Controller) loadRoomViews() ([]RoomView, error) {
	ctx, cancel := c.opCtx()
	rooms, err := c.store.ListRooms(ctx)
	cancel()
	if err != nil {
		return nil, err
	}

	views := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		v := RoomView{Room: r}
		mctx, mcancel := c.opCtx()
		msgs, err := c.store.ListMessages(mctx, r.ID)
		mcancel()
		if err != nil {
			// Аннотация — best effort: комната остаётся в списке без последнего сообщения.
			logger.Errorf("session: аннотация комнаты %s: %v", r.ID, err)
			views = append(views, v)
			continue
		}
		model.SortMessages(msgs)
		v.LastMessage, v.UnreadCount = c.annotate(msgs)
		views = append(views, v)
	}
	return views, nil
}

func (c *Controller) annotate(orderedMsgs []model.Message) (*model.Message, int) {
	var last *model.Message
	if n := len(orderedMsgs); n > 0 {
		m := orderedMsgs[n-1]
		last = &m
	}
	unread := 0
	for i := range orderedMsgs {
		if !orderedMsgs[i].Read && orderedMsgs[i].SenderID != c.user.ID {
			unread++
		}
	}
	return last, unread
}

// --- Выбор комнаты ---

func (c *Controller) doSelect(roomID string) {
	c.selectSeq++
	seq := c.selectSeq
	c.selected = roomID
	c.messages = nil
	c.publish()
	c.loadSelected(roomID, seq)
}

func (c *Controller) loadSelected(roomID string, seq uint64) {
	go func() {
		ctx, cancel := c.opCtx()
		defer cancel()
		msgs, err := c.store.ListMessages(ctx, roomID)
		c.post(func() {
			if seq != c.selectSeq {
				// Опоздавший результат устаревшего выбора: отбрасывается,
				// видимый список принадлежит последнему выбору.
				return
			}
			if err != nil {
				c.reportErr(err)
				return
			}
			model.SortMessages(msgs)
			c.messages = msgs
			c.setUnread(roomID, 0)
			c.clearErr()
			c.publish()
			go c.markRead(roomID)
		})
	}()
}

// markRead — просмотр комнаты помечает чужие сообщения прочитанными. Идемпотентно.
func (c *Controller) markRead(roomID string) {
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.store.MarkRead(ctx, roomID, c.user.ID); err != nil {
		c.post(func() { c.reportErr(err) })
	}
}

// --- События ленты ---

// applyInsert обрабатывает вставку сообщения из ленты. Для выбранной комнаты —
// дедупликация по id и вставка с сохранением порядка (не слепое добавление в
// хвост); для остальных — только пересчёт аннотаций записи в списке комнат.
func (c *Controller) applyInsert(roomID string, m model.Message) {
	if roomID == c.selected {
		if m.SenderID != c.user.ID {
			// Комната открыта — входящее сразу считается прочитанным.
			m.Read = true
			go c.markRead(roomID)
		}
		c.insertMessage(m)
		c.bumpAnnotation(m)
	} else {
		c.bumpAnnotation(m)
		if i := c.roomIndex(roomID); i >= 0 && m.SenderID != c.user.ID && !m.Read {
			c.rooms[i].UnreadCount++
		}
	}
	c.publish()
}

// insertMessage вставляет сообщение в видимый список по порядку (Timestamp, ID).
// Возвращает false, если сообщение с таким id уже есть (эхо собственной отправки).
func (c *Controller) insertMessage(m model.Message) bool {
	for i := range c.messages {
		if c.messages[i].ID == m.ID {
			return false
		}
	}
	i := sort.Search(len(c.messages), func(i int) bool {
		return m.Before(&c.messages[i])
	})
	c.messages = append(c.messages, model.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
	return true
}

// bumpAnnotation обновляет последнее сообщение в записи списка комнат,
// если m новее текущего.
func (c *Controller) bumpAnnotation(m model.Message) {
	i := c.roomIndex(m.RoomID)
	if i < 0 {
		return
	}
	if c.rooms[i].LastMessage == nil || c.rooms[i].LastMessage.Before(&m) {
		mm := m
		c.rooms[i].LastMessage = &mm
	}
}

// refreshRooms — грубое обновление по событию «что-то изменилось в комнатах»:
// полная перезагрузка списка с аннотациями (уведомление не несёт деталей).
func (c *Controller) refreshRooms() {
	go func() {
		views, err := c.loadRoomViews()
		c.post(func() {
			if err != nil {
				c.reportErr(err)
				return
			}
			c.rooms = views
			if c.selected != "" && c.roomIndex(c.selected) < 0 {
				c.selected = ""
				c.messages = nil
			}
			c.publish()
		})
	}()
}

// applyStatus — событие состояния подписки: пересчёт индикатора связи и
// включение деградационного опроса, пока лента недоступна.
func (c *Controller) applyStatus(st feed.Status) {
	prev := c.monitor.Current()
	conn := c.monitor.Update(st)
	if conn == prev {
		return
	}
	switch conn {
	case ConnectivityOffline:
		if c.poll == nil && st != feed.StatusClosed {
			c.poll = time.NewTicker(c.cfg.PollInterval)
		}
	case ConnectivityOnline:
		if c.poll != nil {
			c.poll.Stop()
			c.poll = nil
			// После восстановления ленты состояние добирается разом.
			c.pollRefresh()
		}
	}
	c.publish()
}

// pollRefresh — деградационный режим: периодическая перезагрузка вместо
// push-событий, пока лента отключена.
func (c *Controller) pollRefresh() {
	if c.phase != PhaseReady {
		return
	}
	c.refreshRooms()
	if c.selected != "" {
		c.loadSelected(c.selected, c.selectSeq)
	}
}

// --- Вспомогательное ---

func (c *Controller) roomIndex(roomID string) int {
	for i := range c.rooms {
		if c.rooms[i].Room.ID == roomID {
			return i
		}
	}
	return -1
}

func (c *Controller) setUnread(roomID string, n int) {
	if i := c.roomIndex(roomID); i >= 0 {
		c.rooms[i].UnreadCount = n
	}
}

func (c *Controller) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.cfg.OpTimeout)
}

func (c *Controller) publish() {
	c.notify(Snapshot{
		Phase:        c.phase,
		Rooms:        cloneRoomViews(c.rooms),
		SelectedRoom: c.selected,
		Messages:     cloneMessages(c.messages),
		Connection:   c.monitor.Current(),
		Err:          c.lastErr,
	})
}

// reportErr доводит ошибку хранилища или подписки до интерфейса:
// ошибки не глотаются, повтор — за пользователем.
func (c *Controller) reportErr(err error) {
	logger.Errorf("session user=%s: %v", c.user.ID, err)
	c.lastErr = err.Error()
	c.publish()
}

func (c *Controller) fail(msg string) {
	c.lastErr = msg
	c.publish()
}

func (c *Controller) clearErr() {
	c.lastErr = ""
}

// withUser возвращает ids с гарантированным включением userID, без дубликатов.
func withUser(ids []string, userID string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids)+1)
	for _, id := range append([]string{userID}, ids...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
