package wire

import (
	"io"

	"vpn_handshake/internal/model"
)

// ReadFrame reads one whole frame from r. The header is validated before the
// payload is allocated. I/O failures, EOF included, are TransportError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, model.WrapError(model.KindTransportError, "read header", err)
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	frame := make([]byte, HeaderSize+int(h.Length))
	copy(frame, hdr[:])
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, model.WrapError(model.KindTransportError, "read payload", err)
	}
	return frame, nil
}

// WriteFrame writes an already encoded frame in full.
func WriteFrame(w io.Writer, frame []byte) error {
	for len(frame) > 0 {
		n, err := w.Write(frame)
		if err != nil {
			return model.WrapError(model.KindTransportError, "write frame", err)
		}
		frame = frame[n:]
	}
	return nil
}
