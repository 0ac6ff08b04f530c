package model

const (
	// X25519 ephemeral public/private key size.
	PublicKeySize = 32
	// Ed25519 static public key size.
	StaticKeySize = 32
	SignatureSize = 64

	SessionKeySize = 32
	SessionIDSize  = 16
	TranscriptSize = 32
)

type (
	// EphemeralKeyPair belongs to exactly one handshake attempt.
	EphemeralKeyPair struct {
		Public  [PublicKeySize]byte
		Private [PublicKeySize]byte
	}
)

// Wipe zeroes both halves of the pair. A wiped pair must not be used again.
func (kp *EphemeralKeyPair) Wipe() {
	if kp == nil {
		return
	}
	for i := range kp.Private {
		kp.Private[i] = 0
	}
	for i := range kp.Public {
		kp.Public[i] = 0
	}
}
