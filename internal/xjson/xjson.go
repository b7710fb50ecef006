// Package xjson is the single import site for JSON encoding so the codec can
// be swapped without touching callers.
package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// Normalize round-trips v through JSON so that the result only contains
// map[string]any, []any, float64, string, bool and nil. Values stored in an
// instance must survive persistence unchanged, so they are normalized on write.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := gjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := gjson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
