package model

type (
	Role uint8

	State uint8
)

const (
	Initiator Role = iota + 1
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	}
	return "unknown"
}

const (
	StateInit State = iota
	StateEphemeralSent
	StateEphemeralReceived
	StateAuthExchanged
	StateConfirmed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateEphemeralSent:
		return "EphemeralSent"
	case StateEphemeralReceived:
		return "EphemeralReceived"
	case StateAuthExchanged:
		return "AuthExchanged"
	case StateConfirmed:
		return "Confirmed"
	case StateAborted:
		return "Aborted"
	}
	return "Unknown"
}

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateAborted
}
