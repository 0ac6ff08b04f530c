package tunnel

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, model.SessionKeySize)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func sessionPair(t *testing.T) (a, b *model.SessionContext) {
	t.Helper()
	i2r, r2i := randomKey(t), randomKey(t)
	id := uuid.New()
	a = &model.SessionContext{SessionID: id, Role: model.Initiator, SendKey: i2r, ReceiveKey: r2i}
	b = &model.SessionContext{
		SessionID:  id,
		Role:       model.Responder,
		SendKey:    append([]byte(nil), r2i...),
		ReceiveKey: append([]byte(nil), i2r...),
	}
	return a, b
}

// bufConn lets a test inspect and rewrite frames between sender and receiver.
type bufConn struct {
	bytes.Buffer
}

func (*bufConn) Close() error { return nil }

// splitFrames cuts a buffer of back-to-back frames into whole frames.
func splitFrames(t *testing.T, b []byte) [][]byte {
	t.Helper()
	var out [][]byte
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		f, err := wire.ReadFrame(r)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func pipePair(t *testing.T) (a, b *Tunnel) {
	t.Helper()
	sa, sb := sessionPair(t)
	ca, cb := net.Pipe()
	a, err := New(ca, sa)
	require.NoError(t, err)
	b, err = New(cb, sb)
	require.NoError(t, err)
	return a, b
}

func TestSendReceive(t *testing.T) {
	a, b := pipePair(t)

	go func() {
		_ = a.Send([]byte("hello"))
		_ = a.Send(nil)
	}()
	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	got, err = b.Receive()
	require.NoError(t, err)
	assert.Empty(t, got)

	go func() { _ = b.Send([]byte("echo")) }()
	got, err = a.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("echo"), got)
	assert.Equal(t, a.SessionID(), b.SessionID())
}

func TestCloseYieldsEOF(t *testing.T) {
	a, b := pipePair(t)
	sa := a.session

	done := make(chan error, 1)
	go func() {
		_, err := b.Receive()
		done <- err
	}()
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not return")
	}
	assert.True(t, sa.Destroyed())

	// The peer's Close was already seen, so b does not write one back.
	assert.NoError(t, b.Close())
	assert.True(t, b.session.Destroyed())

	_, err := b.Receive()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, a.Send([]byte("late")), ErrClosed)
	assert.NoError(t, a.Close())
}

func TestTamperedDataIsRejected(t *testing.T) {
	sa, sb := sessionPair(t)
	conn := &bufConn{}
	a, err := New(conn, sa)
	require.NoError(t, err)
	require.NoError(t, a.Send([]byte("payload")))

	frame := append([]byte(nil), conn.Bytes()...)
	for pos := wire.HeaderSize; pos < len(frame); pos++ {
		c := &bufConn{}
		tampered := append([]byte(nil), frame...)
		tampered[pos] ^= 0x80
		c.Write(tampered)

		b, err := New(c, &model.SessionContext{
			SessionID:  sb.SessionID,
			SendKey:    append([]byte(nil), sb.SendKey...),
			ReceiveKey: append([]byte(nil), sb.ReceiveKey...),
		})
		require.NoError(t, err)
		_, err = b.Receive()
		assert.Truef(t, model.IsKind(err, model.KindAuthenticationFailed), "byte %d: %v", pos, err)
	}
}

func TestReplayAndReorderAreRejected(t *testing.T) {
	sa, sb := sessionPair(t)
	conn := &bufConn{}
	a, err := New(conn, sa)
	require.NoError(t, err)
	require.NoError(t, a.Send([]byte("one")))
	require.NoError(t, a.Send([]byte("two")))
	frames := splitFrames(t, conn.Bytes())
	require.Len(t, frames, 2)

	t.Run("replay", func(t *testing.T) {
		c := &bufConn{}
		c.Write(frames[0])
		c.Write(frames[0])
		b, err := New(c, cloneSession(sb))
		require.NoError(t, err)

		got, err := b.Receive()
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)
		_, err = b.Receive()
		assert.True(t, model.IsKind(err, model.KindAuthenticationFailed))

		// Failure is final.
		_, again := b.Receive()
		assert.Equal(t, err, again)
	})

	t.Run("reorder", func(t *testing.T) {
		c := &bufConn{}
		c.Write(frames[1])
		c.Write(frames[0])
		b, err := New(c, cloneSession(sb))
		require.NoError(t, err)
		_, err = b.Receive()
		assert.True(t, model.IsKind(err, model.KindAuthenticationFailed))
	})
}

func TestEmptyDataCannotPassAsClose(t *testing.T) {
	sa, sb := sessionPair(t)
	conn := &bufConn{}
	a, err := New(conn, sa)
	require.NoError(t, err)
	require.NoError(t, a.Send(nil))

	frame := conn.Bytes()
	require.Len(t, frame, wire.HeaderSize+wire.CloseSize)
	frame[7] = byte(model.TypeClose)

	b, err := New(&bufConn{*bytes.NewBuffer(frame)}, sb)
	require.NoError(t, err)
	_, err = b.Receive()
	assert.True(t, model.IsKind(err, model.KindAuthenticationFailed))
}

func TestHandshakeFrameOnTunnel(t *testing.T) {
	_, sb := sessionPair(t)
	frame, err := wire.Encode(&model.Init{Ephemeral: [32]byte{9}})
	require.NoError(t, err)

	b, err := New(&bufConn{*bytes.NewBuffer(frame)}, sb)
	require.NoError(t, err)
	_, err = b.Receive()
	assert.True(t, model.IsKind(err, model.KindProtocolViolation))
}

func TestUncleanEOF(t *testing.T) {
	_, sb := sessionPair(t)
	b, err := New(&bufConn{}, sb)
	require.NoError(t, err)
	_, err = b.Receive()
	assert.True(t, model.IsKind(err, model.KindTransportError))
	assert.ErrorIs(t, err, io.EOF)
}

func TestPayloadTooLarge(t *testing.T) {
	sa, _ := sessionPair(t)
	a, err := New(&bufConn{}, sa)
	require.NoError(t, err)
	err = a.Send(make([]byte, MaxPayload+1))
	assert.True(t, model.IsKind(err, model.KindMalformedMessage))
	assert.NoError(t, a.Send(make([]byte, MaxPayload)))
}

func TestNewRejectsDestroyedSession(t *testing.T) {
	sa, _ := sessionPair(t)
	sa.Destroy()
	_, err := New(&bufConn{}, sa)
	assert.Error(t, err)
	_, err = New(&bufConn{}, nil)
	assert.Error(t, err)
}

func cloneSession(s *model.SessionContext) *model.SessionContext {
	return &model.SessionContext{
		SessionID:  s.SessionID,
		Role:       s.Role,
		SendKey:    append([]byte(nil), s.SendKey...),
		ReceiveKey: append([]byte(nil), s.ReceiveKey...),
	}
}

func TestCloseWipesDirectionKeys(t *testing.T) {
	sa, _ := sessionPair(t)
	tun, err := New(&bufConn{}, sa)
	require.NoError(t, err)

	sendKey, recvKey := tun.send.key, tun.recv.key
	require.Equal(t, sa.SendKey, sendKey)
	require.Equal(t, sa.ReceiveKey, recvKey)

	var nonce [12]byte
	_, err = tun.send.seal(nonce[:], []byte("x"), nil)
	require.NoError(t, err)

	require.NoError(t, tun.Close())
	assert.True(t, sa.Destroyed())
	assert.Equal(t, make([]byte, model.SessionKeySize), sendKey)
	assert.Equal(t, make([]byte, model.SessionKeySize), recvKey)

	_, err = tun.send.seal(nonce[:], []byte("x"), nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tun.recv.open(nonce[:], make([]byte, 16), nil)
	assert.ErrorIs(t, err, ErrClosed)
}
