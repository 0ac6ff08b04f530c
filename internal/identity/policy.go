package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"vpn_handshake/internal/model"

	"go.uber.org/multierr"
)

// TrustPolicy decides whether a remote static key is acceptable.
// Implementations must be safe for concurrent use.
type TrustPolicy interface {
	Trusted(ctx context.Context, key ed25519.PublicKey) (bool, error)
}

// PinnedSet trusts a fixed set of keys. It is never modified after
// construction.
type PinnedSet struct {
	keys [][]byte
}

func NewPinnedSet(keys ...ed25519.PublicKey) *PinnedSet {
	p := &PinnedSet{keys: make([][]byte, 0, len(keys))}
	for _, k := range keys {
		p.keys = append(p.keys, append([]byte(nil), k...))
	}
	return p
}

// Trusted compares against every pinned key so the time taken does not
// depend on which entry matched.
func (p *PinnedSet) Trusted(_ context.Context, key ed25519.PublicKey) (bool, error) {
	found := 0
	for _, k := range p.keys {
		found |= subtle.ConstantTimeCompare(k, key)
	}
	return found == 1, nil
}

// VerifierFunc adapts a callback, e.g. a certificate-chain check, to a
// TrustPolicy.
type VerifierFunc func(ctx context.Context, key ed25519.PublicKey) (bool, error)

func (f VerifierFunc) Trusted(ctx context.Context, key ed25519.PublicKey) (bool, error) {
	return f(ctx, key)
}

// PeerLookup finds a pinned peer by its hex-encoded key. It returns nil, nil
// when there is no such peer.
type PeerLookup interface {
	GetByKey(ctx context.Context, publicKey string) (*model.TrustedPeer, error)
}

// RepositoryPolicy trusts keys stored, and not revoked, in a peer repository.
type RepositoryPolicy struct {
	Peers PeerLookup
}

func (p *RepositoryPolicy) Trusted(ctx context.Context, key ed25519.PublicKey) (bool, error) {
	peer, err := p.Peers.GetByKey(ctx, hex.EncodeToString(key))
	if err != nil {
		return false, fmt.Errorf("peer lookup: %w", err)
	}
	if peer == nil || peer.Revoked {
		return false, nil
	}
	stored, err := hex.DecodeString(peer.PublicKey)
	if err != nil {
		return false, fmt.Errorf("stored peer key: %w", err)
	}
	return subtle.ConstantTimeCompare(stored, key) == 1, nil
}

// AnyOf trusts a key if any of its policies does. A policy error only
// matters when no other policy accepted the key.
type AnyOf []TrustPolicy

func (a AnyOf) Trusted(ctx context.Context, key ed25519.PublicKey) (bool, error) {
	var errs error
	for _, p := range a {
		ok, err := p.Trusted(ctx, key)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errs
}
