package handshake

import (
	"context"
	"io"

	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"
)

// ReplayGuard remembers initiator ephemeral keys seen by a responder.
// CheckAndMark returns an error if the key was already seen, and records it
// otherwise. Implementations must be safe for concurrent use.
type ReplayGuard interface {
	CheckAndMark(ctx context.Context, ephemeral [model.PublicKeySize]byte) error
}

type Config struct {
	// Identity is the local static key and trust policy. Its role decides
	// which side of the handshake the machine plays.
	Identity *identity.Identity

	// Replay is consulted by a responder for every Init. Optional.
	Replay ReplayGuard

	// Rand is the entropy source for ephemeral keys. Defaults to crypto/rand.
	Rand io.Reader
}
