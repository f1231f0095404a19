package hooks

import "time"

// Typed accessors for event fields. Events are open records, so every reader
// has to coerce; these helpers keep that coercion in one place.

// String returns the string stored under key.
func (e Event) String(key string) (string, bool) {
	v, ok := e[key].(string)
	return v, ok
}

// BoolOr returns the boolean under key, or def when absent or mistyped.
func (e Event) BoolOr(key string, def bool) bool {
	if v, ok := e[key].(bool); ok {
		return v
	}
	return def
}

// Map returns the nested record under key.
func (e Event) Map(key string) (map[string]any, bool) {
	switch v := e[key].(type) {
	case map[string]any:
		return v, true
	case Event:
		return v, true
	}
	return nil, false
}

// DurationOr interprets the value under key as a duration and returns def when
// absent. Plain numbers are read as milliseconds, matching the wire convention
// of external agents.
func (e Event) DurationOr(key string, def time.Duration) time.Duration {
	switch v := e[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return def
}
