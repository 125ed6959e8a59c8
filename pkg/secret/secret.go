// Package secret encrypts values stored at rest, such as the Spotify access
// and refresh tokens kept on each user row. A Codec is built once from the
// configured secret and salt and is applied at the store boundary: values
// are sealed before they are written and opened after they are read.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. N=2^15 keeps startup well under a second.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrMalformed is returned when a ciphertext cannot be decoded or fails
// authentication.
var ErrMalformed = errors.New("secret: malformed ciphertext")

// Codec seals and opens strings with XChaCha20-Poly1305.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives a key from secret and salt. Both must be non-empty.
func NewCodec(secret, salt string) (*Codec, error) {
	if secret == "" || salt == "" {
		return nil, errors.New("secret: secret and salt are required")
	}
	key, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("secret: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret: init cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plain with a fresh random nonce and returns the nonce and
// ciphertext as URL-safe base64. The empty string encrypts to itself so
// optional columns stay empty.
func (c *Codec) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}
