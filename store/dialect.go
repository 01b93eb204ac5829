package store

import (
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05",
}

// parseTime converts a scanned timestamp. SQLite returns text, Postgres
// returns time.Time; NULL and unparseable values give the zero time.
func parseTime(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// Rebind numbers ? placeholders as $1, $2, ... for PostgreSQL. Question
// marks inside single-quoted literals are left alone.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n, quoted := 0, false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			quoted = !quoted
		case ch == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
