// Package ws — шлюз между браузером и сессиями чата: одно WebSocket-соединение
// соответствует одной сессии (вкладки и устройства одного пользователя — это
// независимые сессии, согласованные только через хранилище и ленту изменений).
package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/portalchat/internal/feed"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/session"
	"github.com/portalchat/internal/store"
)

type Gateway struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	maxConns int

	store   store.MessageStore
	source  feed.Source
	sessCfg session.Config

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewGateway(st store.MessageStore, source feed.Source, sessCfg session.Config, maxConns int) *Gateway {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Gateway{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		store:      st,
		source:     source,
		sessCfg:    sessCfg,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return
		case client := <-g.register:
			g.addClient(client)
		case client := <-g.unregister:
			g.removeClient(client)
		}
	}
}

// Handle создаёт сессию для принятого соединения и запускает её.
func (g *Gateway) Handle(conn *websocket.Conn, user model.Participant) {
	client := newClient(g, conn, user)
	client.ctrl = session.New(user, g.store, g.source, client.pushState, g.sessCfg)

	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)

	select {
	case g.register <- client:
	case <-g.done:
		client.Close()
	}
}

func (g *Gateway) unregisterClient(c *Client) {
	select {
	case g.unregister <- c:
	case <-g.done:
	}
}

func (g *Gateway) addClient(c *Client) {
	g.mu.Lock()
	if len(g.clients) >= g.maxConns {
		g.mu.Unlock()
		logger.Errorf("ws: достигнут лимит соединений (%d), отказ user=%s", g.maxConns, c.user.ID)
		c.Close()
		return
	}
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	logger.Debugf("ws: сессия открыта user=%s", c.user.ID)
}

func (g *Gateway) removeClient(c *Client) {
	g.mu.Lock()
	_, ok := g.clients[c]
	if ok {
		delete(g.clients, c)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	// Сетевой ввод-вывод вне мьютекса.
	c.Close()
	logger.Debugf("ws: сессия закрыта user=%s", c.user.ID)
}

func (g *Gateway) shutdown() {
	g.mu.Lock()
	all := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		all = append(all, c)
	}
	g.clients = make(map[*Client]struct{})
	g.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}
