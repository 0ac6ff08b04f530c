package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Labels used as HKDF info. Each derived value has its own label so
// handshake keys, session keys and the session id never collide.
const (
	LabelHandshakeI2R = "vpnhs v1 handshake i2r"
	LabelHandshakeR2I = "vpnhs v1 handshake r2i"
	LabelSessionI2R   = "vpnhs v1 session i2r"
	LabelSessionR2I   = "vpnhs v1 session r2i"
	LabelSessionID    = "vpnhs v1 session id"
)

// HKDF-SHA256 of secret with the given salt and info, filling buffer.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Derive expands secret into size bytes bound to transcriptHash and label.
func Derive(secret, transcriptHash []byte, label string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := HKDF(secret, transcriptHash, []byte(label), out); err != nil {
		return nil, fmt.Errorf("kdf %q: %w", label, err)
	}
	return out, nil
}

// DirectionalKeys derives the initiator-to-responder and responder-to-initiator
// keys for one stage of the key schedule.
func DirectionalKeys(secret, transcriptHash []byte, i2rLabel, r2iLabel string, size int) (i2r, r2i []byte, err error) {
	i2r, err = Derive(secret, transcriptHash, i2rLabel, size)
	if err != nil {
		return nil, nil, err
	}
	r2i, err = Derive(secret, transcriptHash, r2iLabel, size)
	if err != nil {
		return nil, nil, err
	}
	return i2r, r2i, nil
}
