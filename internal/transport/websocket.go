package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"vpn_handshake/internal/model"
	"vpn_handshake/internal/utils/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const closeGrace = time.Second

// WSConn presents a WebSocket as a byte stream. Every Write is sent as one
// binary message; Read drains messages in order, so frame boundaries do not
// have to line up with message boundaries.
type WSConn struct {
	ws *websocket.Conn
	r  io.Reader

	wmu sync.Mutex
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				return 0, errors.New("websocket: unexpected text message")
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close frame, best effort, and closes the socket.
func (c *WSConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.ws.Close()
}

func (c *WSConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// WebSocketHandler upgrades each request and serves the stream with h. h
// runs on the request goroutine and gets the request's context.
func WebSocketHandler(h Handler) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // peers authenticate in the handshake, not by origin
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		log.Debug("new websocket connection", zap.Stringer("remote", ws.RemoteAddr()))
		h(r.Context(), NewWSConn(ws))
	}
}

// DialWebSocket connects to a ws:// or wss:// URL, retrying like Dial.
func DialWebSocket(ctx context.Context, url string, opts DialOptions) (*WSConn, error) {
	dialer := *websocket.DefaultDialer
	if opts.DialTimeout > 0 {
		dialer.HandshakeTimeout = opts.DialTimeout
	}

	var conn *websocket.Conn
	op := func() error {
		ws, resp, err := dialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			log.Debug("websocket dial failed", zap.String("url", url), zap.Error(err))
			return err
		}
		conn = ws
		return nil
	}

	if err := backoff.Retry(op, opts.backOff(ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, model.WrapError(model.KindCancelled, "dial "+url, ctx.Err())
		}
		return nil, model.WrapError(model.KindTransportError, "dial "+url, err)
	}
	return NewWSConn(conn), nil
}
