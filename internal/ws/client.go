package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 64
)

// bufPool переиспользует буферы JSON-кодирования в writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client — одно WebSocket-соединение и его сессия чата.
// Жизненный цикл: newClient -> Start(ctx, cancel) -> [readPump, writePump, Controller.Run] -> Close -> Wait.
type Client struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan OutgoingEvent
	user model.Participant
	ctrl *session.Controller

	// done — неблокирующий страж в pushEvent.
	done chan struct{}
	// cancel останавливает пампы и цикл контроллера.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(gw *Gateway, conn *websocket.Conn, user model.Participant) *Client {
	return &Client{
		gw:   gw,
		conn: conn,
		send: make(chan OutgoingEvent, sendBufSize),
		user: user,
		done: make(chan struct{}),
	}
}

// Start запускает пампы и цикл контроллера сессии.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
	go c.ctrl.Run(ctx)
}

// Wait блокируется до выхода обоих пампов.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close останавливает клиента. Повторные вызовы из любых горутин безопасны.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// pushState — колбэк контроллера: каждое изменение состояния уходит клиенту
// вместе с производными полями отображения.
func (c *Client) pushState(s session.Snapshot) {
	c.pushEvent(OutgoingEvent{Type: EventState, Payload: newStatePayload(s, c.user.ID, time.Now())})
}

func (c *Client) pushEvent(ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: клиент не вычитывает — закрываем медленное соединение.
		logger.Errorf("ws: буфер отправки полон, закрываем клиента user=%s", c.user.ID)
		c.Close()
	}
}

func (c *Client) handleOp(op IncomingOp) {
	switch op.Type {
	case OpSelectRoom:
		if op.RoomID == "" {
			c.pushEvent(OutgoingEvent{Type: EventError, Payload: "room_id обязателен"})
			return
		}
		c.ctrl.SelectRoom(op.RoomID)
	case OpSendMessage:
		c.ctrl.SendMessage(op.Content)
	case OpCreateChat:
		if len(op.ParticipantIDs) == 0 {
			c.pushEvent(OutgoingEvent{Type: EventError, Payload: "participant_ids обязателен"})
			return
		}
		kind := op.Kind
		if kind == "" {
			kind = model.RoomKindDirect
		}
		c.ctrl.CreateChat(op.Name, op.ParticipantIDs, kind)
	default:
		c.pushEvent(OutgoingEvent{Type: EventError, Payload: "неизвестная операция"})
	}
}

// readPump читает операции клиента. Выходит по ошибке чтения
// (инициируется conn.Close из Close или выходом writePump).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.gw.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws: read deadline user=%s: %v", c.user.ID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws: ошибка чтения user=%s: %v", c.user.ID, err)
			}
			return
		}

		var op IncomingOp
		if err := json.Unmarshal(raw, &op); err != nil {
			logger.Errorf("ws: unmarshal user=%s: %v", c.user.ID, err)
			continue
		}
		c.handleOp(op)
	}
}

// writePump пишет события клиенту. Выходит по отмене ctx, ошибке записи
// или закрытию соединения.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws: close message user=%s: %v", c.user.ID, err)
			}
			return
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws: write deadline user=%s: %v", c.user.ID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws: marshal user=%s: %v", c.user.ID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder добавляет '\n'; для текстового фрейма он не нужен.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws: write deadline user=%s: %v", c.user.ID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
