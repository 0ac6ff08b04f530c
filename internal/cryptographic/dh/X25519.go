package dh

import (
	"fmt"
	"io"

	"vpn_handshake/internal/cryptographic/secret"
	"vpn_handshake/internal/model"

	"golang.org/x/crypto/curve25519"
)

const SharedSecretSize = curve25519.PointSize

// NewX25519KeyPairFrom generates a key pair from r, normally crypto/rand.
func NewX25519KeyPairFrom(r io.Reader) (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(r, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// NewEphemeral returns a fresh key pair for one handshake attempt.
func NewEphemeral(r io.Reader) (*model.EphemeralKeyPair, error) {
	priv, pub, err := NewX25519KeyPairFrom(r)
	if err != nil {
		return nil, err
	}
	kp := &model.EphemeralKeyPair{Public: pub, Private: priv}
	secret.Wipe(priv[:])
	return kp, nil
}

// X25519SharedSecret computes priv * pub. A peer key of low order (including
// the identity) produces an all-zero result and is rejected with
// InvalidPublicKey, as is an all-zero input.
func X25519SharedSecret(priv, pub [32]byte) ([]byte, error) {
	if secret.IsZero(pub[:]) {
		return nil, model.NewError(model.KindInvalidPublicKey, "x25519: zero public key")
	}
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, model.WrapError(model.KindInvalidPublicKey, "x25519", err)
	}
	return shared, nil
}
