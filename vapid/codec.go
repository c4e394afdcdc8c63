// Package vapid converts VAPID keys between their base64url text form and the
// raw bytes the Push API expects, and loads the server key pair.
package vapid

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeError reports a key that is not valid base64url.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("vapid: malformed key %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeKey decodes a URL-safe base64 string, with or without padding.
func DecodeKey(s string) ([]byte, error) {
	padded := s
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	std := strings.NewReplacer("-", "+", "_", "/").Replace(padded)

	b, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return nil, &DecodeError{Key: s, Err: err}
	}
	return b, nil
}

// EncodeKey returns the unpadded base64url form of b.
func EncodeKey(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
