package dh

import (
	"bytes"
	"crypto/rand"
	"testing"

	"vpn_handshake/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretAgrees(t *testing.T) {
	aPriv, aPub, err := NewX25519KeyPairFrom(rand.Reader)
	require.NoError(t, err)
	bPriv, bPub, err := NewX25519KeyPairFrom(rand.Reader)
	require.NoError(t, err)

	ab, err := X25519SharedSecret(aPriv, bPub)
	require.NoError(t, err)
	ba, err := X25519SharedSecret(bPriv, aPub)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, SharedSecretSize)
}

func TestSharedSecretRejectsLowOrderPoints(t *testing.T) {
	priv, _, err := NewX25519KeyPairFrom(rand.Reader)
	require.NoError(t, err)

	var zero [32]byte
	_, err = X25519SharedSecret(priv, zero)
	assert.True(t, model.IsKind(err, model.KindInvalidPublicKey), "got %v", err)

	// u = 1 has order 4, so the product is the identity.
	var one [32]byte
	one[0] = 1
	_, err = X25519SharedSecret(priv, one)
	assert.ErrorIs(t, err, model.ErrInvalidPublicKey)
}

func TestNewEphemeralIsFresh(t *testing.T) {
	a, err := NewEphemeral(bytes.NewReader(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)
	b, err := NewEphemeral(bytes.NewReader(bytes.Repeat([]byte{9}, 32)))
	require.NoError(t, err)
	assert.NotEqual(t, a.Public, b.Public)

	a.Wipe()
	assert.Equal(t, [32]byte{}, a.Private)
}

func TestNewEphemeralShortRandom(t *testing.T) {
	_, err := NewEphemeral(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}
