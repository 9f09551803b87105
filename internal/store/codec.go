package store

import (
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

// EncodeList encodes a slice as JSON for a nullable column. A nil slice
// returns nil so it is stored as NULL, which keeps nil and empty distinct.
func EncodeList[T any](v []T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return b, nil
}

// DecodeList reverses EncodeList. NULL decodes to a nil slice.
func DecodeList[T any](b []byte) ([]T, error) {
	if b == nil {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	return out, nil
}

// EncodeMap encodes a string map for a nullable column. Empty maps are NULL.
func EncodeMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode map: %w", err)
	}
	return b, nil
}

// DecodeMap reverses EncodeMap.
func DecodeMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	return m, nil
}

// EncodeFormat serializes a Format definition.
func EncodeFormat(f core.Format) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode format %s: %w", f.ID, err)
	}
	return string(b), nil
}

// DecodeFormat reverses EncodeFormat.
func DecodeFormat(def string) (*core.Format, error) {
	var f core.Format
	if err := json.Unmarshal([]byte(def), &f); err != nil {
		return nil, fmt.Errorf("decode format: %w", err)
	}
	return &f, nil
}
