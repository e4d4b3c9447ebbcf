package model

import (
	"fmt"
	"time"
)

var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// FormatTime возвращает время сообщения в формате ЧЧ:ММ.
func FormatTime(t time.Time) string {
	return t.Format("15:04")
}

// DayLabel возвращает подпись дня для группировки сообщений:
// "Сегодня", "Вчера" или "2 января".
func DayLabel(t, now time.Time) string {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return "Сегодня"
	}
	yesterday := now.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if ty == yy && tm == ym && td == yd {
		return "Вчера"
	}
	return fmt.Sprintf("%d %s", td, monthsGenitive[tm-1])
}

// DayGroup — сообщения одного дня для отображения с заголовком-датой.
type DayGroup struct {
	Date     string    `json:"date"`
	Messages []Message `json:"messages"`
}

// GroupByDay разбивает упорядоченный список сообщений на группы по дням.
func GroupByDay(msgs []Message, now time.Time) []DayGroup {
	groups := make([]DayGroup, 0, 4)
	for _, m := range msgs {
		label := DayLabel(m.Timestamp, now)
		if n := len(groups); n > 0 && groups[n-1].Date == label {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Date: label, Messages: []Message{m}})
	}
	return groups
}
