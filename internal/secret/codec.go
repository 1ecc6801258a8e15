package secret

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a secret for durable stores.
func Encode[S Secret](s S) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", s.Kind(), err)
	}
	return string(data), nil
}

// Decode parses a secret previously produced by Encode.
// S must be a pointer type (*Token, *TokenPair or *Credential).
func Decode[S Secret](data string) (S, error) {
	var s S
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return s, fmt.Errorf("decoding secret: %w", err)
	}
	if IsNil(s) {
		return s, fmt.Errorf("decoding secret: empty payload")
	}
	return s, nil
}

// IsNil reports whether s is nil or holds a nil pointer of one of the known variants.
func IsNil(s Secret) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *Token:
		return v == nil
	case *TokenPair:
		return v == nil
	case *Credential:
		return v == nil
	default:
		return false
	}
}
