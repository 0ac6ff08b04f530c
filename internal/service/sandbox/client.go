package sandbox

import (
	"context"
	"time"

	"vpn_handshake/internal/config"
	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/handshake"
	"vpn_handshake/internal/protocol/tunnel"
	"vpn_handshake/internal/transport"
	"vpn_handshake/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	// Client is the initiator side of the harness.
	Client struct {
		cfg  *config.Config
		deps *Deps
	}

	// Result describes an established session. Reply is the first payload
	// the server sent back for the configured message: the message itself
	// from an echoing server, or the upstream's answer from a relaying one.
	Result struct {
		SessionID uuid.UUID
		PeerKey   string
		Reply     []byte
	}
)

func NewClient(cfg *config.Config, deps *Deps) *Client {
	return &Client{
		cfg:  cfg,
		deps: deps,
	}
}

// Run connects, performs the handshake and, if a message is configured,
// sends it through the tunnel and waits for one reply. A failed handshake is
// returned as a handshake.Rejected error.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	m, err := handshake.New(handshake.Config{Identity: c.deps.Identity})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger := log.With(zap.Stringer("remote", conn.RemoteAddr()), zap.Stringer("attempt", m.Attempt()))
	done := c.deps.Metrics.Started(model.Initiator)

	hctx, cancel := handshakeContext(ctx, time.Duration(c.cfg.HandshakeTimeout))
	out := m.Run(hctx, conn)
	cancel()

	est, ok := out.(handshake.Established)
	if !ok {
		rej := out.(handshake.Rejected)
		done(rej.Kind.String())
		logger.Error("handshake rejected", zap.Stringer("kind", rej.Kind), zap.Error(rej.Err))
		_ = conn.Close()
		return nil, rej
	}
	done(resultEstablished)

	res := &Result{
		SessionID: est.Session.SessionID,
		PeerKey:   identity.EncodePublicKey(est.Session.PeerStaticKey),
	}
	logger.Info("session established", zap.Stringer("session", res.SessionID), zap.String("peer", res.PeerKey))

	t, err := tunnel.New(conn, est.Session)
	if err != nil {
		est.Session.Destroy()
		_ = conn.Close()
		return nil, err
	}
	c.deps.Metrics.TunnelOpened()
	defer c.deps.Metrics.TunnelClosed()
	defer func() {
		if err := t.Close(); err != nil {
			logger.Debug("tunnel close", zap.Error(err))
		}
	}()

	if c.cfg.Message == "" {
		return res, nil
	}
	res.Reply, err = c.exchange(ctx, t)
	if err != nil {
		return nil, err
	}
	logger.Info("reply received", zap.Int("bytes", len(res.Reply)))
	return res, nil
}

func (c *Client) dial(ctx context.Context) (transport.Conn, error) {
	opts := transport.DialOptions{
		Attempts:    c.cfg.DialAttempts,
		DialTimeout: connectTimeout,
	}
	if c.cfg.Transport == config.TransportWebSocket {
		ws, err := transport.DialWebSocket(ctx, c.cfg.TunnelURL(), opts)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
	return transport.Dial(ctx, c.cfg.Addr(), opts)
}

func (c *Client) exchange(ctx context.Context, t *tunnel.Tunnel) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	msg := []byte(c.cfg.Message)
	if err := t.Send(msg); err != nil {
		return nil, err
	}
	c.deps.Metrics.Payload("out")

	reply, err := t.Receive()
	if err != nil {
		return nil, err
	}
	c.deps.Metrics.Payload("in")
	return reply, nil
}
