package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"vpn_handshake/internal/config"
	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/handshake"
	"vpn_handshake/internal/protocol/tunnel"
	"vpn_handshake/internal/transport"
	"vpn_handshake/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	resultEstablished = "established"
	shutdownTimeout   = 5 * time.Second
)

type (
	// Server is the responder side of the harness.
	Server struct {
		cfg  *config.Config
		deps *Deps
	}
)

func NewServer(cfg *config.Config, deps *Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
	}
}

// Run listens on the configured address until ctx is done. In once mode it
// returns after the first connection, with a handshake.Rejected error if
// that handshake failed.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			r := mux.NewRouter()
			r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
			return serveHTTP(gctx, s.cfg.MetricsAddr, r)
		})
	}
	g.Go(func() error {
		defer cancel()
		if s.cfg.Transport == config.TransportWebSocket {
			return s.serveWebSocket(gctx)
		}
		l, err := transport.Listen(s.cfg.Addr())
		if err != nil {
			return err
		}
		return s.ServeListener(gctx, l)
	})
	return g.Wait()
}

// ServeListener serves TCP connections from l and closes it when done.
func (s *Server) ServeListener(ctx context.Context, l *transport.Listener) error {
	defer l.Close()
	log.Info("listening", zap.Stringer("addr", l.Addr()), zap.String("transport", string(config.TransportTCP)))

	if !s.cfg.Once {
		return l.Serve(ctx, func(ctx context.Context, conn transport.Conn) {
			s.Handle(ctx, conn)
		})
	}

	conn, err := l.Accept(ctx)
	if err != nil {
		return err
	}
	return outcomeError(s.Handle(ctx, conn))
}

// Router serves the WebSocket tunnel endpoint and the metrics page.
func (s *Server) Router(h transport.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(config.DefaultTunnelPath, transport.WebSocketHandler(h)).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) serveWebSocket(ctx context.Context) error {
	log.Info("listening", zap.String("addr", s.cfg.Addr()), zap.String("transport", string(config.TransportWebSocket)))

	if !s.cfg.Once {
		return serveHTTP(ctx, s.cfg.Addr(), s.Router(func(ctx context.Context, conn transport.Conn) {
			s.Handle(ctx, conn)
		}))
	}

	results := make(chan handshake.Outcome, 1)
	r := s.Router(func(ctx context.Context, conn transport.Conn) {
		out := s.Handle(ctx, conn)
		select {
		case results <- out:
		default:
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- serveHTTP(ctx, s.cfg.Addr(), r) }()

	select {
	case out := <-results:
		cancel()
		<-errc
		return outcomeError(out)
	case err := <-errc:
		return err
	}
}

// Handle runs the responder handshake on conn and, once established, serves
// the tunnel until either end closes. It owns conn.
func (s *Server) Handle(ctx context.Context, conn transport.Conn) handshake.Outcome {
	m, err := handshake.New(handshake.Config{
		Identity: s.deps.Identity,
		Replay:   s.deps.Replay,
	})
	if err != nil {
		_ = conn.Close()
		return handshake.Rejected{Kind: model.KindInternal, Err: err}
	}

	logger := log.With(zap.Stringer("remote", conn.RemoteAddr()), zap.Stringer("attempt", m.Attempt()))
	done := s.deps.Metrics.Started(model.Responder)

	hctx, cancel := handshakeContext(ctx, time.Duration(s.cfg.HandshakeTimeout))
	out := m.Run(hctx, conn)
	cancel()

	switch o := out.(type) {
	case handshake.Rejected:
		done(o.Kind.String())
		logger.Warn("handshake rejected", zap.Stringer("kind", o.Kind), zap.Error(o.Err))
		_ = conn.Close()
	case handshake.Established:
		done(resultEstablished)
		logger.Info("session established",
			zap.Stringer("session", o.Session.SessionID),
			zap.String("peer", identity.EncodePublicKey(o.Session.PeerStaticKey)))
		s.serveTunnel(ctx, conn, o.Session, logger)
	}
	return out
}

// serveTunnel opens the tunnel over an established session and either
// relays it to the configured upstream or echoes payloads back.
func (s *Server) serveTunnel(ctx context.Context, conn io.ReadWriteCloser, session *model.SessionContext, logger *zap.Logger) {
	t, err := tunnel.New(conn, session)
	if err != nil {
		logger.Error("open tunnel failed", zap.Error(err))
		session.Destroy()
		_ = conn.Close()
		return
	}
	s.deps.Metrics.TunnelOpened()
	defer s.deps.Metrics.TunnelClosed()

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	defer func() {
		if err := t.Close(); err != nil {
			logger.Debug("tunnel close", zap.Error(err))
		}
	}()

	if s.cfg.Upstream == "" {
		s.echo(t, logger)
		return
	}
	if err := s.relay(ctx, t, logger); err != nil {
		logger.Warn("relay failed", zap.String("upstream", s.cfg.Upstream), zap.Error(err))
	}
}

func (s *Server) echo(t *tunnel.Tunnel, logger *zap.Logger) {
	for {
		payload, err := receive(t, logger)
		if payload == nil || err != nil {
			return
		}
		s.deps.Metrics.Payload("in")

		if err := t.Send(payload); err != nil {
			logger.Warn("tunnel send failed", zap.Error(err))
			return
		}
		s.deps.Metrics.Payload("out")
	}
}

// relay forwards tunnel payloads to the upstream TCP service and sends
// whatever it writes back as tunnel payloads. Either side closing ends both.
func (s *Server) relay(ctx context.Context, t *tunnel.Tunnel, logger *zap.Logger) error {
	up, err := transport.Dial(ctx, s.cfg.Upstream, transport.DialOptions{
		Attempts:    s.cfg.DialAttempts,
		DialTimeout: connectTimeout,
	})
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("upstream", s.cfg.Upstream))
	logger.Info("relaying to upstream")

	var g errgroup.Group
	g.Go(func() error {
		defer up.Close()
		for {
			payload, err := receive(t, logger)
			if payload == nil || err != nil {
				return nil
			}
			s.deps.Metrics.Payload("in")
			if _, err := up.Write(payload); err != nil {
				return fmt.Errorf("write upstream: %w", err)
			}
		}
	})
	g.Go(func() error {
		defer t.Close()
		buf := make([]byte, tunnel.MaxPayload)
		for {
			n, err := up.Read(buf)
			if n > 0 {
				if err := t.Send(buf[:n]); err != nil {
					if errors.Is(err, tunnel.ErrClosed) {
						return nil
					}
					return err
				}
				s.deps.Metrics.Payload("out")
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("upstream closed")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read upstream: %w", err)
			}
		}
	})
	return g.Wait()
}

// receive returns the next payload, or nil once the tunnel is done. A
// failure other than the peer's Close is returned after logging.
func receive(t *tunnel.Tunnel, logger *zap.Logger) ([]byte, error) {
	payload, err := t.Receive()
	// A bare io.EOF is the peer's authenticated Close; a dropped
	// connection comes back as a TransportError.
	if err == io.EOF {
		logger.Info("peer closed tunnel")
		return nil, nil
	}
	if err != nil {
		if !errors.Is(err, tunnel.ErrClosed) {
			logger.Warn("tunnel receive failed", zap.Error(err))
		}
		return nil, err
	}
	if payload == nil {
		payload = []byte{}
	}
	return payload, nil
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func handshakeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// outcomeError is nil for an established session and the Rejected value
// otherwise.
func outcomeError(out handshake.Outcome) error {
	if r, ok := out.(handshake.Rejected); ok {
		return r
	}
	return nil
}
