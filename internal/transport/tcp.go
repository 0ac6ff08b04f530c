// Package transport provides the ordered byte streams the handshake runs
// over: plain TCP and WebSocket.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"vpn_handshake/internal/model"
	"vpn_handshake/internal/utils/log"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Conn is the stream a handshake and its tunnel run over. net.Conn and
// *WSConn both satisfy it.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Handler serves one accepted connection and owns it.
type Handler func(ctx context.Context, conn Conn)

type Listener struct {
	ln net.Listener
	wg sync.WaitGroup
}

func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is done or the listener is closed,
// running h for each in its own goroutine. It waits for running handlers
// before returning.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("accept loop closed", zap.Stringer("addr", l.ln.Addr()))
				return nil
			}
			return err
		}

		log.Debug("new connection", zap.Stringer("remote", conn.RemoteAddr()))
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			h(ctx, conn)
		}()
	}
}

// Accept waits for a single connection.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.WrapError(model.KindCancelled, "accept", ctx.Err())
		}
		return nil, model.WrapError(model.KindTransportError, "accept", err)
	}
	return conn, nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// DialOptions controls connection retries. Retries only cover establishing
// the connection; a handshake is never retried on the same stream.
type DialOptions struct {
	Attempts    uint64
	DialTimeout time.Duration
	MaxElapsed  time.Duration
}

func (o DialOptions) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	if o.MaxElapsed > 0 {
		eb.MaxElapsedTime = o.MaxElapsed
	}
	var b backoff.BackOff = eb
	if o.Attempts > 0 {
		b = backoff.WithMaxRetries(b, o.Attempts-1)
	}
	return backoff.WithContext(b, ctx)
}

// Dial connects to addr over TCP, retrying with exponential backoff.
func Dial(ctx context.Context, addr string, opts DialOptions) (net.Conn, error) {
	var conn net.Conn
	attempt := 0
	op := func() error {
		attempt++
		d := net.Dialer{Timeout: opts.DialTimeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.Debug("dial failed", zap.String("addr", addr), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(op, opts.backOff(ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, model.WrapError(model.KindCancelled, "dial "+addr, ctx.Err())
		}
		return nil, model.WrapError(model.KindTransportError, "dial "+addr, err)
	}
	return conn, nil
}
