package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const minRandomBytes = 16

// RandomToken returns n crypto/rand bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	if n < minRandomBytes {
		return "", errors.New("random token too short")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
