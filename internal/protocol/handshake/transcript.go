package handshake

import (
	"crypto/sha256"
	"hash"

	"vpn_handshake/internal/model"
)

// Prologue is hashed before the first message so that both sides bind the
// negotiated suite into every derived key.
const Prologue = "vpnhs/1 X25519 Ed25519 ChaChaPoly HKDF-SHA256"

// Domain separation for the two signatures.
const (
	responseContext = "vpnhs response"
	confirmContext  = "vpnhs confirm"
)

// transcript is a running SHA-256 over every frame exchanged, header
// included, in protocol order.
type transcript struct {
	h hash.Hash
}

func newTranscript() *transcript {
	t := &transcript{h: sha256.New()}
	t.h.Write([]byte(Prologue))
	return t
}

func (t *transcript) mix(frame []byte) {
	t.h.Write(frame)
}

// sum returns the hash so far without finalizing the running state.
func (t *transcript) sum() [model.TranscriptSize]byte {
	var out [model.TranscriptSize]byte
	t.h.Sum(out[:0])
	return out
}

func (t *transcript) reset() {
	t.h.Reset()
}

// responseSigningInput is what the responder signs: its ephemeral and static
// keys bound to the transcript up to and including Init.
func responseSigningInput(th [model.TranscriptSize]byte, ephemeral [model.PublicKeySize]byte, static []byte) []byte {
	b := make([]byte, 0, len(responseContext)+len(th)+len(ephemeral)+len(static))
	b = append(b, responseContext...)
	b = append(b, th[:]...)
	b = append(b, ephemeral[:]...)
	return append(b, static...)
}

// confirmSigningInput is what the initiator signs: its static key bound to
// the transcript up to and including Response.
func confirmSigningInput(th [model.TranscriptSize]byte, static []byte) []byte {
	b := make([]byte, 0, len(confirmContext)+len(th)+len(static))
	b = append(b, confirmContext...)
	b = append(b, th[:]...)
	return append(b, static...)
}
