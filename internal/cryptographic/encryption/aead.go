package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"vpn_handshake/internal/model"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	Overhead  = chacha20poly1305.Overhead
)

// NewAEAD returns a ChaCha20-Poly1305 instance for callers that manage
// their own nonces.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305.New: %w", err)
	}
	return aead, nil
}

// ChaCha20-Poly1305 helper. key must be 32 bytes. Output is nonce || ciphertext.
func AEADEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+Overhead)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// AEADDecrypt opens nonce || ciphertext. Any failure, including a short
// input, is AuthenticationFailed and no plaintext is returned.
func AEADDecrypt(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonceAndCiphertext) < NonceSize+Overhead {
		return nil, model.NewError(model.KindAuthenticationFailed, "aead: ciphertext too short")
	}
	nonce := nonceAndCiphertext[:NonceSize]
	ct := nonceAndCiphertext[NonceSize:]
	plain, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, model.WrapError(model.KindAuthenticationFailed, "aead.Open", err)
	}
	return plain, nil
}

// SealedSize is the length of AEADEncrypt's output for n plaintext bytes.
func SealedSize(n int) int {
	return NonceSize + n + Overhead
}
