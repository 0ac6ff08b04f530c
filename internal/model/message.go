package model

// MessageType is the on-wire type code of a frame.
type MessageType uint16

const (
	TypeInit     MessageType = 1
	TypeResponse MessageType = 2
	TypeConfirm  MessageType = 3
	TypeAck      MessageType = 4
	TypeData     MessageType = 5
	TypeClose    MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case TypeInit:
		return "Init"
	case TypeResponse:
		return "Response"
	case TypeConfirm:
		return "Confirm"
	case TypeAck:
		return "Ack"
	case TypeData:
		return "Data"
	case TypeClose:
		return "Close"
	}
	return "Unknown"
}

func (t MessageType) Valid() bool {
	return t >= TypeInit && t <= TypeClose
}

// Message is one of Init, Response, Confirm, Ack, Data or Close.
// The set is closed: only types in this package implement it.
type Message interface {
	Type() MessageType
	message()
}

type (
	// Init opens a handshake with the initiator's ephemeral key.
	Init struct {
		Ephemeral [PublicKeySize]byte
	}

	// Response carries the responder's ephemeral and static keys and its
	// signature over the transcript up to and including these keys.
	Response struct {
		Ephemeral [PublicKeySize]byte
		Static    [StaticKeySize]byte
		Signature [SignatureSize]byte
	}

	// Confirm is the initiator's static key and signature, sealed under the
	// initiator-to-responder handshake key.
	Confirm struct {
		Sealed []byte
	}

	// Ack is the responder's key confirmation, an empty plaintext sealed under
	// the responder-to-initiator handshake key.
	Ack struct {
		Sealed []byte
	}

	// Data is an application payload sealed with a session key.
	Data struct {
		Sealed []byte
	}

	// Close is an authenticated end of the tunnel.
	Close struct {
		Sealed []byte
	}
)

func (*Init) Type() MessageType     { return TypeInit }
func (*Response) Type() MessageType { return TypeResponse }
func (*Confirm) Type() MessageType  { return TypeConfirm }
func (*Ack) Type() MessageType      { return TypeAck }
func (*Data) Type() MessageType     { return TypeData }
func (*Close) Type() MessageType    { return TypeClose }

func (*Init) message()     {}
func (*Response) message() {}
func (*Confirm) message()  {}
func (*Ack) message()      {}
func (*Data) message()     {}
func (*Close) message()    {}
