// Package identity holds a peer's long-term signing key and the policy it
// uses to decide which remote static keys to accept.
//
// An Identity is immutable after construction and is safe for concurrent use
// by any number of handshakes.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"vpn_handshake/internal/cryptographic/signature"
	"vpn_handshake/internal/model"
)

type Identity struct {
	role   model.Role
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	policy TrustPolicy
}

func New(role model.Role, priv ed25519.PrivateKey, policy TrustPolicy) (*Identity, error) {
	if role != model.Initiator && role != model.Responder {
		return nil, fmt.Errorf("identity: invalid role %d", role)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: private key is %d bytes", len(priv))
	}
	if policy == nil {
		return nil, fmt.Errorf("identity: nil trust policy")
	}
	own := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(own, priv)
	return &Identity{
		role:   role,
		priv:   own,
		pub:    own.Public().(ed25519.PublicKey),
		policy: policy,
	}, nil
}

// Generate creates an identity with a fresh static key pair.
func Generate(role model.Role, policy TrustPolicy) (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return New(role, priv, policy)
}

func (id *Identity) Role() model.Role { return id.role }

// PublicKey returns a copy of the static public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), id.pub...)
}

func (id *Identity) Sign(data []byte) []byte {
	return signature.ED25519Sign(id.priv, data)
}

// Authorize checks peerKey against the trust policy. Rejection, and any
// error raised by the policy, is AuthenticationFailed.
func (id *Identity) Authorize(ctx context.Context, peerKey []byte) error {
	if len(peerKey) != ed25519.PublicKeySize {
		return model.NewError(model.KindAuthenticationFailed, "peer static key has wrong size")
	}
	ok, err := id.policy.Trusted(ctx, ed25519.PublicKey(peerKey))
	if err != nil {
		return model.WrapError(model.KindAuthenticationFailed, "trust policy", err)
	}
	if !ok {
		return model.NewError(model.KindAuthenticationFailed, "peer static key is not trusted")
	}
	return nil
}

// Verify authorizes peerKey and then checks sig over data. Failure is
// terminal for the handshake.
func (id *Identity) Verify(ctx context.Context, peerKey, data, sig []byte) error {
	if err := id.Authorize(ctx, peerKey); err != nil {
		return err
	}
	if !signature.ED25519Verify(peerKey, data, sig) {
		return model.NewError(model.KindAuthenticationFailed, "bad signature")
	}
	return nil
}
