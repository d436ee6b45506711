package models

import "time"

// stampLayout 固定宽度、毫秒精度的 UTC 时间，字符串比较即时间先后。
const stampLayout = "2006-01-02T15:04:05.000Z"

// Stamp 把时间格式化为持久化使用的 ISO-8601 字符串。
func Stamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

// StampPtr is Stamp for nullable fields.
func StampPtr(t time.Time) *string {
	s := Stamp(t)
	return &s
}

// ParseStamp parses a persisted timestamp. Any RFC 3339 value is accepted so
// hand-edited files keep working.
func ParseStamp(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
