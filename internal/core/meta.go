package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Meta is the structured payload attached to a task definition. Keys are strings and
// values are restricted to what encoding/json produces: nil, bool, float64, string,
// []any and map[string]any.
type Meta map[string]any

// ParseMeta decodes a JSON object into Meta. An empty or null document yields an empty Meta.
func ParseMeta(raw []byte) (Meta, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Meta{}, nil
	}
	if trimmed[0] != '{' {
		return nil, &ValidationError{Field: "meta", Message: fmt.Sprintf("must be a dictionary, not %s", jsonKind(trimmed[0]))}
	}
	var m Meta
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, &ValidationError{Field: "meta", Message: err.Error()}
	}
	if m == nil {
		m = Meta{}
	}
	return m, nil
}

// Merge returns a copy of m with every key of update applied on top.
func (m Meta) Merge(update Meta) Meta {
	out := make(Meta, len(m)+len(update))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Encode serialises m as a JSON object. A nil Meta encodes as {}.
func (m Meta) Encode() (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return "", fmt.Errorf("encode meta: %w", err)
	}
	return string(data), nil
}

func jsonKind(first byte) string {
	switch first {
	case '[':
		return "an array"
	case '"':
		return "a string"
	case 't', 'f':
		return "a boolean"
	default:
		return "a number"
	}
}
