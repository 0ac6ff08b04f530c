// Package wire implements the versioned binary framing of handshake and
// tunnel messages. It has no cryptographic logic.
//
// Frame layout, big-endian:
//
//	magic(4) | version(2) | type(2) | length(4) | payload(length)
package wire

import (
	"encoding/binary"
	"fmt"

	"vpn_handshake/internal/cryptographic/encryption"
	"vpn_handshake/internal/model"
)

const (
	Magic   uint32 = 0x56504E44 // "VPND"
	Version uint16 = 1

	HeaderSize     = 12
	MaxPayloadSize = 16 * 1024
	MaxFrameSize   = HeaderSize + MaxPayloadSize
)

// Payload sizes per message type.
const (
	InitSize         = model.PublicKeySize
	ResponseSize     = model.PublicKeySize + model.StaticKeySize + model.SignatureSize
	ConfirmPlainSize = model.StaticKeySize + model.SignatureSize
	ConfirmSize      = encryption.NonceSize + ConfirmPlainSize + encryption.Overhead
	AckSize          = encryption.NonceSize + encryption.Overhead
	CloseSize        = encryption.Overhead
	DataMinSize      = encryption.Overhead
)

// MaxDataPlaintext is the largest application payload one Data frame carries.
const MaxDataPlaintext = MaxPayloadSize - encryption.Overhead

type Header struct {
	Magic   uint32
	Version uint16
	Type    model.MessageType
	Length  uint32
}

// ParseHeader validates the fixed header at the start of b. The version is
// checked before anything else so a peer speaking another version is never
// misread as this one.
func ParseHeader(b []byte) (Header, error) {
	if len(b) >= 6 {
		if v := binary.BigEndian.Uint16(b[4:6]); v != Version {
			return Header{}, model.NewError(model.KindUnsupportedVersion, fmt.Sprintf("version %d", v))
		}
	}
	if len(b) < HeaderSize {
		return Header{}, model.NewError(model.KindMalformedMessage, "truncated header")
	}
	h := Header{
		Magic:   binary.BigEndian.Uint32(b[0:4]),
		Version: binary.BigEndian.Uint16(b[4:6]),
		Type:    model.MessageType(binary.BigEndian.Uint16(b[6:8])),
		Length:  binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Magic != Magic {
		return Header{}, model.NewError(model.KindMalformedMessage, "bad magic")
	}
	if !h.Type.Valid() {
		return Header{}, model.NewError(model.KindMalformedMessage, fmt.Sprintf("unknown message type %d", uint16(h.Type)))
	}
	if h.Length > MaxPayloadSize {
		return Header{}, model.NewError(model.KindMalformedMessage, "payload too large")
	}
	if err := checkPayloadSize(h.Type, int(h.Length)); err != nil {
		return Header{}, err
	}
	return h, nil
}

func checkPayloadSize(t model.MessageType, n int) error {
	var ok bool
	switch t {
	case model.TypeInit:
		ok = n == InitSize
	case model.TypeResponse:
		ok = n == ResponseSize
	case model.TypeConfirm:
		ok = n == ConfirmSize
	case model.TypeAck:
		ok = n == AckSize
	case model.TypeClose:
		ok = n == CloseSize
	case model.TypeData:
		ok = n >= DataMinSize && n <= MaxPayloadSize
	}
	if !ok {
		return model.NewError(model.KindMalformedMessage, fmt.Sprintf("%s payload of %d bytes", t, n))
	}
	return nil
}

// Encode frames m. It only fails when a variable-size payload is out of
// bounds, which callers in this module never produce.
func Encode(m model.Message) ([]byte, error) {
	if m == nil {
		return nil, model.NewError(model.KindMalformedMessage, "nil message")
	}

	var payload []byte
	switch msg := m.(type) {
	case *model.Init:
		payload = msg.Ephemeral[:]
	case *model.Response:
		payload = make([]byte, 0, ResponseSize)
		payload = append(payload, msg.Ephemeral[:]...)
		payload = append(payload, msg.Static[:]...)
		payload = append(payload, msg.Signature[:]...)
	case *model.Confirm:
		payload = msg.Sealed
	case *model.Ack:
		payload = msg.Sealed
	case *model.Data:
		payload = msg.Sealed
	case *model.Close:
		payload = msg.Sealed
	default:
		return nil, model.NewError(model.KindMalformedMessage, "unknown message")
	}
	if err := checkPayloadSize(m.Type(), len(payload)); err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderSize+len(payload))
	out = binary.BigEndian.AppendUint32(out, Magic)
	out = binary.BigEndian.AppendUint16(out, Version)
	out = binary.BigEndian.AppendUint16(out, uint16(m.Type()))
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

// Decode parses exactly one frame. b must hold the whole frame and nothing
// more. The returned message never aliases b.
func Decode(b []byte) (model.Message, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) != HeaderSize+int(h.Length) {
		return nil, model.NewError(model.KindMalformedMessage,
			fmt.Sprintf("frame is %d bytes, header declares %d", len(b), HeaderSize+int(h.Length)))
	}
	body := b[HeaderSize:]

	switch h.Type {
	case model.TypeInit:
		msg := &model.Init{}
		if _, err := readFixed(body, 0, msg.Ephemeral[:]); err != nil {
			return nil, err
		}
		return msg, nil
	case model.TypeResponse:
		msg := &model.Response{}
		offset, err := readFixed(body, 0, msg.Ephemeral[:])
		if err != nil {
			return nil, err
		}
		if offset, err = readFixed(body, offset, msg.Static[:]); err != nil {
			return nil, err
		}
		if offset, err = readFixed(body, offset, msg.Signature[:]); err != nil {
			return nil, err
		}
		if err := readFinish(body, offset); err != nil {
			return nil, err
		}
		return msg, nil
	case model.TypeConfirm:
		return &model.Confirm{Sealed: clone(body)}, nil
	case model.TypeAck:
		return &model.Ack{Sealed: clone(body)}, nil
	case model.TypeData:
		return &model.Data{Sealed: clone(body)}, nil
	case model.TypeClose:
		return &model.Close{Sealed: clone(body)}, nil
	}
	return nil, model.NewError(model.KindMalformedMessage, "unknown message type")
}

func readFixed(body []byte, offset int, dst []byte) (int, error) {
	if len(body) < offset+len(dst) {
		return offset, model.NewError(model.KindMalformedMessage, "payload too short")
	}
	copy(dst, body[offset:])
	return offset + len(dst), nil
}

func readFinish(body []byte, offset int) error {
	if offset != len(body) {
		return model.NewError(model.KindMalformedMessage, "payload excess bytes")
	}
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
