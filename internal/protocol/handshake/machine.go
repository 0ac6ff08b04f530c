// Package handshake implements the mutually authenticated key exchange as a
// sans-I/O state machine. A Machine consumes whole frames and returns the
// frame to send next, if any; Run drives it over a stream.
//
// Flow:
//
//	I -> R  Init      e_i
//	R -> I  Response  e_r, s_r, Sign(s_r, "vpnhs response" || TH1 || e_r || s_r)
//	I -> R  Confirm   AEAD(k_i2r, s_i || Sign(s_i, "vpnhs confirm" || TH2 || s_i), TH2)
//	R -> I  Ack       AEAD(k_r2i, "", TH3)
//
// THn is the transcript hash after the nth message. Handshake keys come from
// HKDF(DH(e_i, e_r), TH2), session keys and the session id from
// HKDF(DH(e_i, e_r), TH3).
package handshake

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"vpn_handshake/internal/cryptographic/dh"
	"vpn_handshake/internal/cryptographic/kdf"
	"vpn_handshake/internal/cryptographic/secret"
	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"
	"vpn_handshake/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Machine is one handshake attempt for one role. It is not safe for
// concurrent use; a responder creates one Machine per connection.
type Machine struct {
	cfg     Config
	id      *identity.Identity
	role    model.Role
	attempt uuid.UUID
	logger  *zap.Logger

	state       model.State
	transitions []model.State

	transcript *transcript
	ephemeral  *model.EphemeralKeyPair
	shared     []byte
	hsI2R      []byte
	hsR2I      []byte
	th2        [model.TranscriptSize]byte
	th3        [model.TranscriptSize]byte
	final      [model.TranscriptSize]byte
	peerStatic ed25519.PublicKey

	session  *model.SessionContext
	released bool
	err      *model.Error
}

func New(cfg Config) (*Machine, error) {
	if cfg.Identity == nil {
		return nil, errors.New("handshake: nil identity")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	role := cfg.Identity.Role()
	attempt := uuid.New()
	return &Machine{
		cfg:         cfg,
		id:          cfg.Identity,
		role:        role,
		attempt:     attempt,
		logger:      log.With(zap.Stringer("attempt", attempt), zap.Stringer("role", role)),
		state:       model.StateInit,
		transitions: []model.State{model.StateInit},
		transcript:  newTranscript(),
	}, nil
}

func (m *Machine) Role() model.Role { return m.role }

func (m *Machine) State() model.State { return m.state }

// Attempt identifies this attempt in logs. It is not sent on the wire.
func (m *Machine) Attempt() uuid.UUID { return m.attempt }

// Transitions returns every state the machine has been in, in order.
func (m *Machine) Transitions() []model.State {
	return append([]model.State(nil), m.transitions...)
}

// Transcript returns the hash over all four messages once the machine is
// Confirmed, and zero otherwise.
func (m *Machine) Transcript() [model.TranscriptSize]byte {
	return m.final
}

// Err returns the error that aborted the attempt, or nil.
func (m *Machine) Err() error {
	if m.err == nil {
		return nil
	}
	return m.err
}

// Start produces the Init frame. Only an initiator in state Init may start.
func (m *Machine) Start() ([]byte, error) {
	if m.state.Terminal() {
		return nil, model.NewError(model.KindProtocolViolation, "handshake already finished")
	}
	if m.role != model.Initiator {
		return nil, m.fail(model.NewError(model.KindProtocolViolation, "responder cannot start a handshake"))
	}
	if m.state != model.StateInit {
		return nil, m.fail(model.NewError(model.KindProtocolViolation, "handshake already started"))
	}

	eph, err := m.newEphemeral()
	if err != nil {
		return nil, m.fail(err)
	}
	m.ephemeral = eph

	frame, err := wire.Encode(&model.Init{Ephemeral: eph.Public})
	if err != nil {
		return nil, m.fail(err)
	}
	m.transcript.mix(frame)
	m.transition(model.StateEphemeralSent)
	return frame, nil
}

// Step consumes one inbound frame and returns the frame to send in reply, or
// nil when there is nothing to send. Any error aborts the attempt; the
// returned error is a *model.Error. Stepping a finished machine returns an
// error and changes nothing.
func (m *Machine) Step(ctx context.Context, frame []byte) ([]byte, error) {
	if m.state.Terminal() {
		return nil, model.NewError(model.KindProtocolViolation, "handshake already finished")
	}
	if err := ctx.Err(); err != nil {
		return nil, m.fail(model.WrapError(model.KindCancelled, "handshake cancelled", err))
	}

	msg, err := wire.Decode(frame)
	if err != nil {
		return nil, m.fail(err)
	}

	var out []byte
	switch m.role {
	case model.Initiator:
		out, err = m.stepInitiator(ctx, frame, msg)
	case model.Responder:
		out, err = m.stepResponder(ctx, frame, msg)
	default:
		err = model.NewError(model.KindInternal, fmt.Sprintf("bad role %d", m.role))
	}
	if err != nil {
		return nil, m.fail(err)
	}
	return out, nil
}

// Abort ends the attempt with err. Aborting an already aborted machine
// returns the original error. Once the session has been taken with Outcome,
// Abort has no effect and returns nil.
func (m *Machine) Abort(err error) error {
	if m.state == model.StateConfirmed && m.released {
		return nil
	}
	return m.fail(err)
}

// Outcome reports the result of a finished attempt, or nil while it is still
// in progress. Taking an Established outcome hands the session to the
// caller.
func (m *Machine) Outcome() Outcome {
	switch m.state {
	case model.StateConfirmed:
		m.released = true
		return Established{Session: m.session}
	case model.StateAborted:
		return Rejected{Kind: m.err.Kind, Err: m.err}
	}
	return nil
}

// Close wipes every secret the attempt still holds. An unfinished attempt is
// aborted as Cancelled, and a session that was never taken is destroyed.
func (m *Machine) Close() {
	if !m.state.Terminal() {
		m.fail(model.NewError(model.KindCancelled, "handshake closed"))
		return
	}
	m.wipeHandshake()
	if m.state == model.StateConfirmed && !m.released {
		m.session.Destroy()
	}
}

func (m *Machine) newEphemeral() (*model.EphemeralKeyPair, error) {
	eph, err := dh.NewEphemeral(m.cfg.Rand)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "ephemeral key", err)
	}
	return eph, nil
}

func (m *Machine) transition(to model.State) {
	m.logger.Debug("handshake state", zap.Stringer("from", m.state), zap.Stringer("to", to))
	m.state = to
	m.transitions = append(m.transitions, to)
}

// fail moves the machine to Aborted and wipes everything it holds. The first
// error wins.
func (m *Machine) fail(err error) *model.Error {
	if m.state == model.StateAborted {
		return m.err
	}
	var e *model.Error
	if !errors.As(err, &e) {
		e = model.WrapError(model.KindInternal, "handshake", err)
	}
	m.err = e
	m.wipeHandshake()
	m.final = [model.TranscriptSize]byte{}
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	m.transition(model.StateAborted)
	m.logger.Debug("handshake aborted", zap.Stringer("kind", e.Kind), zap.Error(e))
	return e
}

func (m *Machine) deriveHandshakeKeys() error {
	i2r, r2i, err := kdf.DirectionalKeys(m.shared, m.th2[:], kdf.LabelHandshakeI2R, kdf.LabelHandshakeR2I, model.SessionKeySize)
	if err != nil {
		return model.WrapError(model.KindInternal, "handshake keys", err)
	}
	m.hsI2R, m.hsR2I = i2r, r2i
	return nil
}

// establish derives the session from TH3 and moves to Confirmed. All
// handshake intermediates are wiped.
func (m *Machine) establish() error {
	i2r, r2i, err := kdf.DirectionalKeys(m.shared, m.th3[:], kdf.LabelSessionI2R, kdf.LabelSessionR2I, model.SessionKeySize)
	if err != nil {
		return model.WrapError(model.KindInternal, "session keys", err)
	}
	sid, err := kdf.Derive(m.shared, m.th3[:], kdf.LabelSessionID, model.SessionIDSize)
	if err != nil {
		secret.Wipe(i2r)
		secret.Wipe(r2i)
		return model.WrapError(model.KindInternal, "session id", err)
	}

	s := &model.SessionContext{
		Role:          m.role,
		PeerStaticKey: m.peerStatic,
	}
	copy(s.SessionID[:], sid)
	if m.role == model.Initiator {
		s.SendKey, s.ReceiveKey = i2r, r2i
	} else {
		s.SendKey, s.ReceiveKey = r2i, i2r
	}
	m.session = s

	m.wipeHandshake()
	m.transition(model.StateConfirmed)
	m.logger.Debug("handshake confirmed", zap.Stringer("session", s.SessionID))
	return nil
}

func (m *Machine) wipeHandshake() {
	m.ephemeral.Wipe()
	m.ephemeral = nil
	secret.Wipe(m.shared)
	secret.Wipe(m.hsI2R)
	secret.Wipe(m.hsR2I)
	m.shared, m.hsI2R, m.hsR2I = nil, nil, nil
	secret.Wipe(m.th2[:])
	secret.Wipe(m.th3[:])
	m.transcript.reset()
}

func unexpected(msg model.Message, state model.State) error {
	return model.NewError(model.KindProtocolViolation, fmt.Sprintf("unexpected %s in state %s", msg.Type(), state))
}
