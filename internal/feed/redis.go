package feed

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
)

// receiveTimeout — период, после которого подписчик проверяет соединение PING-ом.
const receiveTimeout = 30 * time.Second

// Redis — лента изменений поверх Redis pub/sub. Реализует Publisher и Source.
type Redis struct {
	cli *redis.Client
}

func NewRedis(cli *redis.Client) *Redis {
	return &Redis{cli: cli}
}

func (f *Redis) PublishRoomChange(ctx context.Context) error {
	return f.cli.Publish(ctx, roomsChannel, "1").Err()
}

func (f *Redis) PublishMessageInsert(ctx context.Context, msg model.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return f.cli.Publish(ctx, messagesChannel, data).Err()
}

// Subscribe открывает подписку на оба канала. Возвращает ошибку, если первичная
// подписка не подтвердилась; дальнейшие обрывы транслируются через OnStatus.
func (f *Redis) Subscribe(ctx context.Context, h Handlers) (*Subscription, error) {
	h.status(StatusConnecting)
	subCtx, cancel := context.WithCancel(ctx)
	ps := f.cli.Subscribe(subCtx, roomsChannel, messagesChannel)
	if _, err := ps.Receive(subCtx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}
	sub := newSubscription(cancel)
	go f.run(subCtx, ps, h, sub)
	return sub, nil
}

// run — цикл доставки. go-redis сам переподключает pub/sub; здесь только
// маршрутизация событий и трансляция состояния соединения.
func (f *Redis) run(ctx context.Context, ps *redis.PubSub, h Handlers, sub *Subscription) {
	defer close(sub.done)
	defer func() {
		_ = ps.Close()
	}()

	h.status(StatusSubscribed)
	healthy := true

	for {
		if ctx.Err() != nil {
			h.status(StatusClosed)
			return
		}
		raw, err := ps.ReceiveTimeout(ctx, receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				h.status(StatusClosed)
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Тишина в каналах: проверяем соединение.
				if pingErr := f.cli.Ping(ctx).Err(); pingErr != nil && healthy {
					healthy = false
					h.status(StatusDisconnected)
				} else if pingErr == nil && !healthy {
					healthy = true
					h.status(StatusConnecting)
					h.status(StatusSubscribed)
				}
				continue
			}
			if healthy {
				healthy = false
				h.status(StatusDisconnected)
			}
			// go-redis переподключится на следующем Receive.
			continue
		}

		switch m := raw.(type) {
		case *redis.Message:
			if !healthy {
				healthy = true
				h.status(StatusSubscribed)
			}
			if !dispatch(h, m.Channel, []byte(m.Payload)) {
				logger.Errorf("feed: событие не разобрано, channel=%s", m.Channel)
			}
		case *redis.Subscription:
			// Подтверждение (пере)подписки после обрыва.
			if !healthy {
				healthy = true
				h.status(StatusConnecting)
				h.status(StatusSubscribed)
			}
		case *redis.Pong:
		}
	}
}
