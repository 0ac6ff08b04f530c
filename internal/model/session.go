package model

import (
	"crypto/ed25519"
	"crypto/subtle"

	"github.com/google/uuid"
)

type (
	// SessionContext is the result of a completed handshake. The caller owns
	// it and must call Destroy when the tunnel closes.
	SessionContext struct {
		SessionID     uuid.UUID
		Role          Role
		SendKey       []byte
		ReceiveKey    []byte
		PeerStaticKey ed25519.PublicKey
	}
)

// Destroy zeroes the key material. It is safe to call more than once.
func (s *SessionContext) Destroy() {
	if s == nil {
		return
	}
	wipe(s.SendKey)
	wipe(s.ReceiveKey)
	s.SendKey = nil
	s.ReceiveKey = nil
}

func (s *SessionContext) Destroyed() bool {
	return s == nil || s.SendKey == nil || s.ReceiveKey == nil
}

// SameSession reports in constant time whether two contexts carry the same
// session id.
func (s *SessionContext) SameSession(other *SessionContext) bool {
	if s == nil || other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(s.SessionID[:], other.SessionID[:]) == 1
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
