package handshake

import (
	"context"
	"crypto/ed25519"

	"vpn_handshake/internal/cryptographic/dh"
	"vpn_handshake/internal/cryptographic/encryption"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"
)

func (m *Machine) stepResponder(ctx context.Context, frame []byte, msg model.Message) ([]byte, error) {
	switch m.state {
	case model.StateInit:
		in, ok := msg.(*model.Init)
		if !ok {
			return nil, unexpected(msg, m.state)
		}
		return m.onInit(ctx, frame, in)
	case model.StateEphemeralReceived:
		c, ok := msg.(*model.Confirm)
		if !ok {
			return nil, unexpected(msg, m.state)
		}
		return m.onConfirm(ctx, frame, c)
	}
	return nil, unexpected(msg, m.state)
}

func (m *Machine) onInit(ctx context.Context, frame []byte, in *model.Init) ([]byte, error) {
	if m.cfg.Replay != nil {
		if err := m.cfg.Replay.CheckAndMark(ctx, in.Ephemeral); err != nil {
			if model.KindOf(err) == model.KindUnknown {
				return nil, model.WrapError(model.KindProtocolViolation, "replay check", err)
			}
			return nil, err
		}
	}

	m.transcript.mix(frame)
	th1 := m.transcript.sum()

	eph, err := m.newEphemeral()
	if err != nil {
		return nil, err
	}
	m.ephemeral = eph

	shared, err := dh.X25519SharedSecret(eph.Private, in.Ephemeral)
	if err != nil {
		return nil, err
	}
	m.shared = shared

	static := m.id.PublicKey()
	resp := &model.Response{Ephemeral: eph.Public}
	copy(resp.Static[:], static)
	copy(resp.Signature[:], m.id.Sign(responseSigningInput(th1, eph.Public, static)))

	out, err := wire.Encode(resp)
	if err != nil {
		return nil, err
	}
	m.transcript.mix(out)
	m.th2 = m.transcript.sum()
	if err := m.deriveHandshakeKeys(); err != nil {
		return nil, err
	}

	// The private half is only needed for the DH above.
	m.ephemeral.Wipe()
	m.ephemeral = nil

	m.transition(model.StateEphemeralReceived)
	return out, nil
}

func (m *Machine) onConfirm(ctx context.Context, frame []byte, c *model.Confirm) ([]byte, error) {
	m.transition(model.StateAuthExchanged)

	plain, err := encryption.AEADDecrypt(m.hsI2R, c.Sealed, m.th2[:])
	if err != nil {
		return nil, err
	}
	if len(plain) != wire.ConfirmPlainSize {
		return nil, model.NewError(model.KindMalformedMessage, "confirm payload has wrong size")
	}
	static := plain[:model.StaticKeySize]
	sig := plain[model.StaticKeySize:]
	if err := m.id.Verify(ctx, static, confirmSigningInput(m.th2, static), sig); err != nil {
		return nil, err
	}
	m.peerStatic = append(ed25519.PublicKey(nil), static...)

	m.transcript.mix(frame)
	m.th3 = m.transcript.sum()

	sealed, err := encryption.AEADEncrypt(m.hsR2I, nil, m.th3[:])
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "seal ack", err)
	}
	out, err := wire.Encode(&model.Ack{Sealed: sealed})
	if err != nil {
		return nil, err
	}
	m.transcript.mix(out)
	m.final = m.transcript.sum()

	if err := m.establish(); err != nil {
		return nil, err
	}
	return out, nil
}
