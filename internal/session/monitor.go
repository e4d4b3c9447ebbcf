package session

import "github.com/portalchat/internal/feed"

// Connectivity — индикатор связи для интерфейса.
type Connectivity string

const (
	ConnectivityOnline     Connectivity = "online"
	ConnectivityConnecting Connectivity = "connecting"
	ConnectivityOffline    Connectivity = "offline"
)

// Translate переводит состояние подписки в индикатор связи.
func Translate(s feed.Status) Connectivity {
	switch s {
	case feed.StatusSubscribed:
		return ConnectivityOnline
	case feed.StatusConnecting:
		return ConnectivityConnecting
	default:
		// Disconnected и Closed для интерфейса неразличимы.
		return ConnectivityOffline
	}
}

// Monitor — чисто производное состояние связи; пересчитывается на каждом
// событии подписки, собственных данных не хранит.
type Monitor struct {
	current Connectivity
}

func NewMonitor() Monitor {
	return Monitor{current: ConnectivityConnecting}
}

// Update пересчитывает индикатор по событию подписки.
func (m *Monitor) Update(s feed.Status) Connectivity {
	m.current = Translate(s)
	return m.current
}

func (m *Monitor) Current() Connectivity {
	return m.current
}

func (m *Monitor) Online() bool {
	return m.current == ConnectivityOnline
}
