package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/portalchat/internal/feed"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		status feed.Status
		want   Connectivity
	}{
		{feed.StatusSubscribed, ConnectivityOnline},
		{feed.StatusConnecting, ConnectivityConnecting},
		{feed.StatusDisconnected, ConnectivityOffline},
		{feed.StatusClosed, ConnectivityOffline},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Translate(tt.status))
		})
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, ConnectivityConnecting, m.Current(), "до первого события — connecting")
	assert.False(t, m.Online())

	assert.Equal(t, ConnectivityOnline, m.Update(feed.StatusSubscribed))
	assert.True(t, m.Online())

	m.Update(feed.StatusDisconnected)
	assert.Equal(t, ConnectivityOffline, m.Current())

	// Повторное подключение полностью восстанавливает индикатор.
	m.Update(feed.StatusConnecting)
	m.Update(feed.StatusSubscribed)
	assert.True(t, m.Online())
}
