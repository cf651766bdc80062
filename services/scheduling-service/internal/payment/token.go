package payment

import (
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// tokenBytes gives 256 bits of entropy.
const tokenBytes = 32

// newToken returns an opaque URL-safe token and the digest that is stored in its place.
func newToken(rand io.Reader) (string, []byte, error) {
	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand, raw); err != nil {
		return "", nil, fmt.Errorf("generate payment token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	return token, hashToken(token), nil
}

func hashToken(token string) []byte {
	sum := blake2b.Sum256([]byte(token))
	return sum[:]
}
