package handshake

import (
	"context"
	"io"

	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/wire"
)

// Run drives the machine over conn until it reaches a terminal state and
// returns the outcome. Cancelling ctx closes conn, which unblocks any
// pending read or write, and the attempt is Rejected as Cancelled. Run does
// not close conn on success; the established tunnel keeps using it.
func (m *Machine) Run(ctx context.Context, conn io.ReadWriteCloser) Outcome {
	defer m.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	m.drive(ctx, conn)
	if !stop() && m.state != model.StateAborted {
		// conn was closed underneath a handshake that raced to completion.
		m.Abort(model.WrapError(model.KindCancelled, "handshake cancelled", context.Cause(ctx)))
	}
	return m.Outcome()
}

func (m *Machine) drive(ctx context.Context, conn io.ReadWriter) {
	if m.role == model.Initiator {
		frame, err := m.Start()
		if err != nil {
			return
		}
		if !m.send(ctx, conn, frame) {
			return
		}
	}

	for !m.state.Terminal() {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			m.Abort(ioError(ctx, err))
			return
		}
		reply, err := m.Step(ctx, frame)
		if err != nil {
			return
		}
		if reply != nil && !m.send(ctx, conn, reply) {
			return
		}
	}
}

func (m *Machine) send(ctx context.Context, conn io.Writer, frame []byte) bool {
	if err := wire.WriteFrame(conn, frame); err != nil {
		m.Abort(ioError(ctx, err))
		return false
	}
	return true
}

// ioError reports a failed read or write as Cancelled when ctx caused it.
func ioError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return model.WrapError(model.KindCancelled, "handshake cancelled", context.Cause(ctx))
	}
	return err
}
