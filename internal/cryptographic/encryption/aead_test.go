package encryption

import (
	"crypto/rand"
	"testing"

	"vpn_handshake/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestAEADRoundTrip(t *testing.T) {
	key := newKey(t)
	aad := []byte("header")

	sealed, err := AEADEncrypt(key, []byte("hello tunnel"), aad)
	require.NoError(t, err)
	assert.Len(t, sealed, SealedSize(len("hello tunnel")))

	plain, err := AEADDecrypt(key, sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, "hello tunnel", string(plain))
}

func TestAEADTamper(t *testing.T) {
	key := newKey(t)
	sealed, err := AEADEncrypt(key, []byte("payload"), nil)
	require.NoError(t, err)

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0x01
		plain, err := AEADDecrypt(key, tampered, nil)
		assert.Nil(t, plain)
		assert.ErrorIs(t, err, model.ErrAuthenticationFailed, "byte %d", i)
	}
}

func TestAEADWrongAAD(t *testing.T) {
	key := newKey(t)
	sealed, err := AEADEncrypt(key, []byte("payload"), []byte("a"))
	require.NoError(t, err)

	_, err = AEADDecrypt(key, sealed, []byte("b"))
	assert.ErrorIs(t, err, model.ErrAuthenticationFailed)
}

func TestAEADShortInput(t *testing.T) {
	_, err := AEADDecrypt(newKey(t), make([]byte, NonceSize), nil)
	assert.ErrorIs(t, err, model.ErrAuthenticationFailed)
}
