package transport

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, conn Conn) {
	defer conn.Close()
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if err := wire.WriteFrame(conn, frame); err != nil {
			return
		}
	}
}

func testFrame(t *testing.T, b byte) []byte {
	t.Helper()
	frame, err := wire.Encode(&model.Init{Ephemeral: [32]byte{b}})
	require.NoError(t, err)
	return frame
}

func TestTCPServeAndDial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx, echo) }()

	conn, err := Dial(ctx, l.Addr().String(), DialOptions{Attempts: 3})
	require.NoError(t, err)
	defer conn.Close()

	for i := byte(1); i <= 3; i++ {
		want := testFrame(t, i)
		require.NoError(t, wire.WriteFrame(conn, want))
		got, err := wire.ReadFrame(conn)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	conn.Close()
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAcceptOne(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		c, err := net.Dial("tcp", l.Addr().String())
		if err == nil {
			c.Close()
		}
	}()
	conn, err := l.Accept(ctx)
	require.NoError(t, err)
	conn.Close()
}

func TestAcceptCancelled(t *testing.T) {
	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Accept(ctx)
	assert.True(t, model.IsKind(err, model.KindCancelled))
}

func TestDialGivesUp(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = Dial(ctx, addr, DialOptions{Attempts: 2, DialTimeout: time.Second})
	assert.True(t, model.IsKind(err, model.KindTransportError), "%v", err)
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "127.0.0.1:1", DialOptions{Attempts: 5})
	assert.True(t, model.IsKind(err, model.KindCancelled), "%v", err)
}

func TestWebSocketStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := mux.NewRouter()
	r.HandleFunc("/tunnel", WebSocketHandler(echo))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tunnel"
	conn, err := DialWebSocket(ctx, url, DialOptions{Attempts: 2})
	require.NoError(t, err)
	defer conn.Close()

	// Write one frame in two pieces; the reader must not care.
	want := testFrame(t, 7)
	_, err = conn.Write(want[:5])
	require.NoError(t, err)
	_, err = conn.Write(want[5:])
	require.NoError(t, err)

	got, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NotNil(t, conn.RemoteAddr())
}

func TestWebSocketCloseIsEOF(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := mux.NewRouter()
	r.HandleFunc("/tunnel", WebSocketHandler(func(_ context.Context, conn Conn) {
		conn.Close()
	}))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tunnel"
	conn, err := DialWebSocket(ctx, url, DialOptions{Attempts: 1})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
