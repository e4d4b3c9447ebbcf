package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayLabel(t *testing.T) {
	now := time.Date(2026, time.August, 28, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"сегодня", time.Date(2026, time.August, 28, 0, 1, 0, 0, time.UTC), "Сегодня"},
		{"вчера", time.Date(2026, time.August, 27, 23, 59, 0, 0, time.UTC), "Вчера"},
		{"другой день", time.Date(2026, time.January, 2, 12, 0, 0, 0, time.UTC), "2 января"},
		{"прошлый год", time.Date(2025, time.December, 31, 12, 0, 0, 0, time.UTC), "31 декабря"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DayLabel(tt.t, now))
		})
	}

	t.Run("вчера через границу месяца", func(t *testing.T) {
		marchFirst := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
		lastFeb := time.Date(2026, time.February, 28, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, "Вчера", DayLabel(lastFeb, marchFirst))
	})
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, time.August, 28, 9, 5, 33, 0, time.UTC)
	assert.Equal(t, "09:05", FormatTime(ts))
}

func TestGroupByDay(t *testing.T) {
	now := time.Date(2026, time.August, 28, 18, 0, 0, 0, time.UTC)
	day := func(d, h int) time.Time {
		return time.Date(2026, time.August, d, h, 0, 0, 0, time.UTC)
	}
	msgs := []Message{
		{ID: "1", Content: "старое", Timestamp: day(20, 10)},
		{ID: "2", Content: "старое ещё", Timestamp: day(20, 11)},
		{ID: "3", Content: "вчерашнее", Timestamp: day(27, 9)},
		{ID: "4", Content: "сегодняшнее", Timestamp: day(28, 8)},
		{ID: "5", Content: "свежее", Timestamp: day(28, 17)},
	}

	groups := GroupByDay(msgs, now)
	require.Len(t, groups, 3)

	assert.Equal(t, "20 августа", groups[0].Date)
	assert.Len(t, groups[0].Messages, 2)
	assert.Equal(t, "Вчера", groups[1].Date)
	assert.Len(t, groups[1].Messages, 1)
	assert.Equal(t, "Сегодня", groups[2].Date)
	assert.Len(t, groups[2].Messages, 2)
}

func TestGroupByDayEmpty(t *testing.T) {
	groups := GroupByDay(nil, time.Now())
	assert.Empty(t, groups)
}
