package feed

import (
	"context"
	"sync"

	"github.com/portalchat/internal/model"
)

// Bus — внутрипроцессная лента для режима -dev (без Redis) и тестов.
// Реализует Publisher и Source; подписка всегда в состоянии Subscribed.
type Bus struct {
	mu   sync.Mutex
	subs map[*busSub]struct{}
}

type busEvent struct {
	channel string
	payload []byte
}

type busSub struct {
	events chan busEvent
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*busSub]struct{})}
}

func (b *Bus) PublishRoomChange(ctx context.Context) error {
	b.publish(busEvent{channel: roomsChannel, payload: []byte("1")})
	return nil
}

func (b *Bus) PublishMessageInsert(ctx context.Context, msg model.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	b.publish(busEvent{channel: messagesChannel, payload: data})
	return nil
}

func (b *Bus) publish(ev busEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.events <- ev:
		default:
			// Подписчик не успевает — событие теряется, как и у внешнего транспорта
			// (доставка at-least-once не означает безграничный буфер).
		}
	}
}

func (b *Bus) Subscribe(ctx context.Context, h Handlers) (*Subscription, error) {
	h.status(StatusConnecting)
	subCtx, cancel := context.WithCancel(ctx)
	s := &busSub{events: make(chan busEvent, 256)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	sub := newSubscription(cancel)
	go func() {
		defer close(sub.done)
		defer func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		}()
		h.status(StatusSubscribed)
		for {
			select {
			case <-subCtx.Done():
				h.status(StatusClosed)
				return
			case ev := <-s.events:
				dispatch(h, ev.channel, ev.payload)
			}
		}
	}()
	return sub, nil
}
