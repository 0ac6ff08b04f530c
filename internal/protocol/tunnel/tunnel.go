// Package tunnel carries application payloads over an established session.
// Every frame is sealed with the direction's session key; nonces are
// per-direction counters, so frames cannot be reordered, replayed or
// dropped without the receiver noticing.
package tunnel

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"vpn_handshake/internal/cryptographic/encryption"
	"vpn_handshake/internal/cryptographic/secret"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const noncePrefixSize = encryption.NonceSize - 8

// MaxPayload is the largest payload Send accepts.
const MaxPayload = wire.MaxDataPlaintext

var ErrClosed = errors.New("tunnel: closed")

// direction holds its own copy of one session key. The AEAD is built per
// frame so wiping key leaves no cipher state behind.
type direction struct {
	mu  sync.Mutex
	key []byte
	seq uint64
}

func newDirection(key []byte) direction {
	return direction{key: append([]byte(nil), key...)}
}

func (d *direction) seal(nonce, payload, aad []byte) ([]byte, error) {
	if d.key == nil {
		return nil, ErrClosed
	}
	aead, err := encryption.NewAEAD(d.key)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "tunnel: seal", err)
	}
	return aead.Seal(nil, nonce, payload, aad), nil
}

func (d *direction) open(nonce, sealed, aad []byte) ([]byte, error) {
	if d.key == nil {
		return nil, ErrClosed
	}
	aead, err := encryption.NewAEAD(d.key)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "tunnel: open", err)
	}
	plain, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, model.WrapError(model.KindAuthenticationFailed, "tunnel: open", err)
	}
	return plain, nil
}

// wipe must be called with mu held.
func (d *direction) wipe() {
	secret.Wipe(d.key)
	d.key = nil
}

// next returns the nonce for the next frame in this direction.
func (d *direction) next() ([encryption.NonceSize]byte, error) {
	var nonce [encryption.NonceSize]byte
	if d.seq == math.MaxUint64 {
		return nonce, model.NewError(model.KindProtocolViolation, "tunnel: nonce counter exhausted")
	}
	binary.BigEndian.PutUint64(nonce[noncePrefixSize:], d.seq)
	d.seq++
	return nonce, nil
}

// Tunnel is safe for one sender and one receiver running concurrently.
type Tunnel struct {
	conn    io.ReadWriteCloser
	session *model.SessionContext
	id      uuid.UUID

	send direction
	recv direction

	// set under recv.mu
	rerr       error
	peerClosed atomic.Bool

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New takes ownership of session. It is destroyed when the tunnel closes.
func New(conn io.ReadWriteCloser, session *model.SessionContext) (*Tunnel, error) {
	if session == nil || session.Destroyed() {
		return nil, errors.New("tunnel: session is destroyed")
	}
	if len(session.SendKey) != encryption.KeySize || len(session.ReceiveKey) != encryption.KeySize {
		return nil, errors.New("tunnel: bad session key size")
	}
	return &Tunnel{
		conn:    conn,
		session: session,
		id:      session.SessionID,
		send:    newDirection(session.SendKey),
		recv:    newDirection(session.ReceiveKey),
		closed:  make(chan struct{}),
	}, nil
}

func (t *Tunnel) SessionID() uuid.UUID { return t.id }

func (t *Tunnel) PeerStaticKey() []byte {
	return append([]byte(nil), t.session.PeerStaticKey...)
}

// aad binds a frame to this session and to its type, so an empty Data frame
// cannot be passed off as Close.
func (t *Tunnel) aad(typ model.MessageType) []byte {
	b := make([]byte, 0, model.SessionIDSize+2)
	b = append(b, t.id[:]...)
	return binary.BigEndian.AppendUint16(b, uint16(typ))
}

func (t *Tunnel) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Send seals payload into one Data frame.
func (t *Tunnel) Send(payload []byte) error {
	if len(payload) > MaxPayload {
		return model.NewError(model.KindMalformedMessage, "tunnel: payload too large")
	}
	return t.write(model.TypeData, payload)
}

func (t *Tunnel) write(typ model.MessageType, payload []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	t.send.mu.Lock()
	defer t.send.mu.Unlock()

	nonce, err := t.send.next()
	if err != nil {
		return err
	}
	sealed, err := t.send.seal(nonce[:], payload, t.aad(typ))
	if err != nil {
		return err
	}

	var msg model.Message
	if typ == model.TypeClose {
		msg = &model.Close{Sealed: sealed}
	} else {
		msg = &model.Data{Sealed: sealed}
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return wire.WriteFrame(t.conn, frame)
}

// Receive returns the next payload. An authenticated Close from the peer
// yields io.EOF. Any other failure is final and returned by every later
// call.
func (t *Tunnel) Receive() ([]byte, error) {
	t.recv.mu.Lock()
	defer t.recv.mu.Unlock()

	if t.rerr != nil {
		return nil, t.rerr
	}
	payload, err := t.receive()
	if err != nil {
		if t.isClosed() && !errors.Is(err, io.EOF) {
			err = ErrClosed
		}
		t.rerr = err
		return nil, err
	}
	return payload, nil
}

func (t *Tunnel) receive() ([]byte, error) {
	frame, err := wire.ReadFrame(t.conn)
	if err != nil {
		return nil, err
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		return nil, err
	}

	var sealed []byte
	switch m := msg.(type) {
	case *model.Data:
		sealed = m.Sealed
	case *model.Close:
		sealed = m.Sealed
	default:
		return nil, model.NewError(model.KindProtocolViolation, "tunnel: unexpected "+msg.Type().String())
	}

	nonce, err := t.recv.next()
	if err != nil {
		return nil, err
	}
	plain, err := t.recv.open(nonce[:], sealed, t.aad(msg.Type()))
	if err != nil {
		return nil, err
	}
	if msg.Type() == model.TypeClose {
		t.peerClosed.Store(true)
		return nil, io.EOF
	}
	return plain, nil
}

// Close sends an authenticated Close unless the peer already sent one, then
// closes the connection and destroys the session keys. Only the first call
// does anything.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		var err error
		if !t.peerClosed.Load() {
			err = t.write(model.TypeClose, nil)
		}
		close(t.closed)
		err = multierr.Append(err, t.conn.Close())

		// Wait out any Send or Receive still holding a key. The closed
		// conn unblocks a pending read.
		t.send.mu.Lock()
		t.send.wipe()
		t.session.Destroy()
		t.send.mu.Unlock()

		t.recv.mu.Lock()
		t.recv.wipe()
		t.recv.mu.Unlock()
		t.closeErr = err
	})
	return t.closeErr
}
