package handshake

import (
	"context"
	"crypto/ed25519"

	"vpn_handshake/internal/cryptographic/dh"
	"vpn_handshake/internal/cryptographic/encryption"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"
)

func (m *Machine) stepInitiator(ctx context.Context, frame []byte, msg model.Message) ([]byte, error) {
	switch m.state {
	case model.StateEphemeralSent:
		resp, ok := msg.(*model.Response)
		if !ok {
			return nil, unexpected(msg, m.state)
		}
		return m.onResponse(ctx, frame, resp)
	case model.StateAuthExchanged:
		ack, ok := msg.(*model.Ack)
		if !ok {
			return nil, unexpected(msg, m.state)
		}
		return nil, m.onAck(frame, ack)
	}
	return nil, unexpected(msg, m.state)
}

// onResponse authenticates the responder before any key is derived from its
// ephemeral, then answers with Confirm.
func (m *Machine) onResponse(ctx context.Context, frame []byte, resp *model.Response) ([]byte, error) {
	th1 := m.transcript.sum()
	err := m.id.Verify(ctx, resp.Static[:], responseSigningInput(th1, resp.Ephemeral, resp.Static[:]), resp.Signature[:])
	if err != nil {
		return nil, err
	}

	shared, err := dh.X25519SharedSecret(m.ephemeral.Private, resp.Ephemeral)
	if err != nil {
		return nil, err
	}
	m.shared = shared
	m.peerStatic = append(ed25519.PublicKey(nil), resp.Static[:]...)

	m.transcript.mix(frame)
	m.th2 = m.transcript.sum()
	if err := m.deriveHandshakeKeys(); err != nil {
		return nil, err
	}
	m.ephemeral.Wipe()
	m.ephemeral = nil
	m.transition(model.StateAuthExchanged)

	own := m.id.PublicKey()
	plain := make([]byte, 0, wire.ConfirmPlainSize)
	plain = append(plain, own...)
	plain = append(plain, m.id.Sign(confirmSigningInput(m.th2, own))...)

	sealed, err := encryption.AEADEncrypt(m.hsI2R, plain, m.th2[:])
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "seal confirm", err)
	}
	out, err := wire.Encode(&model.Confirm{Sealed: sealed})
	if err != nil {
		return nil, err
	}
	m.transcript.mix(out)
	m.th3 = m.transcript.sum()
	return out, nil
}

func (m *Machine) onAck(frame []byte, ack *model.Ack) error {
	if _, err := encryption.AEADDecrypt(m.hsR2I, ack.Sealed, m.th3[:]); err != nil {
		return err
	}
	m.transcript.mix(frame)
	m.final = m.transcript.sum()
	return m.establish()
}
