package config

import (
	"time"
)

// Values gives register functions typed access to the host section.
// Every accessor returns its default when the key is missing or holds a
// value of another type.
type Values struct {
	data map[string]any
}

// NewValues wraps data. A nil map behaves as an empty one.
func NewValues(data map[string]any) Values {
	if data == nil {
		data = make(map[string]any)
	}
	return Values{data: data}
}

// ValuesFrom extracts Values from the host context handed to a register
// function.
func ValuesFrom(hostContext any) (Values, bool) {
	switch v := hostContext.(type) {
	case Values:
		return v, true
	case map[string]any:
		return NewValues(v), true
	}
	return NewValues(nil), false
}

// String returns the string at key.
func (v Values) String(key, defaultVal string) string {
	if s, ok := v.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean at key.
func (v Values) Bool(key string, defaultVal bool) bool {
	if b, ok := v.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer at key. Floats without a fractional part are accepted.
func (v Values) Int(key string, defaultVal int) int {
	switch val := v.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Duration returns the duration at key: a duration string or a number of seconds.
func (v Values) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := v.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case time.Duration:
		return val
	}
	return defaultVal
}

// StringSlice returns the strings at key.
func (v Values) StringSlice(key string, defaultVal []string) []string {
	switch val := v.data[key].(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, s)
		}
		return result
	}
	return defaultVal
}

// Has reports whether key is set.
func (v Values) Has(key string) bool {
	_, ok := v.data[key]
	return ok
}

// Raw returns the underlying map.
func (v Values) Raw() map[string]any {
	return v.data
}
