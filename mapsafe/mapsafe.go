package mapsafe

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the set of types a metadata value can be coerced into.
type Value interface {
	~int | ~float64 | ~float32 | ~bool | ~string
}

// Lookup parses the value stored under key into T.
// It reports ok=false when the key is missing or blank; err is set only when a value
// is present but cannot be converted.
func Lookup[T Value](m map[string]string, key string) (T, bool, error) {
	var zero T

	raw, present := m[key]
	raw = strings.TrimSpace(raw)
	if !present || raw == "" {
		return zero, false, nil
	}

	var out any
	switch any(zero).(type) {
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return zero, true, fmt.Errorf("%s: %q is not an integer", key, raw)
		}
		out = v
	case float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return zero, true, fmt.Errorf("%s: %q is not a number", key, raw)
		}
		out = v
	case float32:
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return zero, true, fmt.Errorf("%s: %q is not a number", key, raw)
		}
		out = float32(v)
	case bool:
		v, err := parseBool(raw)
		if err != nil {
			return zero, true, fmt.Errorf("%s: %w", key, err)
		}
		out = v
	case string:
		out = raw
	default:
		return zero, true, fmt.Errorf("%s: unsupported type %T", key, zero)
	}

	return out.(T), true, nil
}

// Get retrieves a typed value from a string map.
// If the key is missing or the value cannot be converted, it returns the default value.
func Get[T Value](m map[string]string, key string, defaultValue T) T {
	v, ok, err := Lookup[T](m, key)
	if !ok || err != nil {
		return defaultValue
	}
	return v
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", raw)
}
