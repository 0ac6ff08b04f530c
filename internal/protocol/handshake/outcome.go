package handshake

import (
	"vpn_handshake/internal/model"
)

// Outcome is the single result of a handshake attempt: Established or
// Rejected.
type Outcome interface {
	outcome()
}

// Established carries the session. The receiver owns it and must call
// Session.Destroy when done.
type Established struct {
	Session *model.SessionContext
}

// Rejected carries the reason the attempt failed. No key material survives a
// rejected attempt.
type Rejected struct {
	Kind model.ErrKind
	Err  error
}

func (Established) outcome() {}
func (Rejected) outcome()    {}

func (r Rejected) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Kind.String()
}

func (r Rejected) Unwrap() error { return r.Err }
