package userdata

import (
	"encoding/json"
	"fmt"
)

// Value is a field exactly as stored: either JSON or a bare string written
// by older code paths.
type Value string

// Record maps field names to stored values for one identity.
type Record map[string]Value

// Encode turns v into its stored form. Strings are stored as-is so they are
// never JSON-encoded twice; everything else is JSON.
func Encode(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case string:
		return Value(x), nil
	case json.RawMessage:
		return Value(x), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return Value(data), nil
}

// Decode unmarshals the value into dst. A *string destination receives the
// raw value unchanged.
func (v Value) Decode(dst any) error {
	if p, ok := dst.(*string); ok {
		*p = string(v)
		return nil
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// Any decodes the value as JSON, falling back to the raw string when it is
// not JSON.
func (v Value) Any() any {
	var out any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return string(v)
	}
	return out
}

func (v Value) String() string {
	return string(v)
}

func decodeAs[T any](v Value, def T) T {
	var out T
	switch p := any(&out).(type) {
	case *string:
		*p = string(v)
		return out
	case *any:
		*p = v.Any()
		return out
	}

	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return def
	}
	return out
}
