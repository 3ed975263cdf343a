package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode serialises v as JSON and returns it as unpadded base64url.
func Encode(v interface{}) (string, error) {
	d, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cursor.Encode: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(d), nil
}

// Decode reverses Encode into out. It reports false for anything it can't
// read; callers treat that as "start from the beginning".
func Decode(s string, out interface{}) bool {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" {
		return false
	}

	d, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return false
	}

	if err := json.Unmarshal(d, out); err != nil {
		return false
	}

	return true
}

// Envelope tags a strategy-specific payload so a token minted by one paging
// strategy is never applied to another.
type Envelope struct {
	Kind    string          `json:"k"`
	Payload json.RawMessage `json:"p"`
}

func EncodeTagged(kind string, payload interface{}) (string, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cursor.EncodeTagged: %w", err)
	}

	s, err := Encode(Envelope{Kind: kind, Payload: p})
	if err != nil {
		return "", fmt.Errorf("cursor.EncodeTagged: %w", err)
	}

	return s, nil
}

// DecodeTagged decodes s into out only when its tag matches kind.
func DecodeTagged(s, kind string, out interface{}) bool {
	var env Envelope
	if !Decode(s, &env) {
		return false
	}

	if env.Kind != kind || len(env.Payload) == 0 {
		return false
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false
	}

	return true
}
