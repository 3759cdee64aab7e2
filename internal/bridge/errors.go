package bridge

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConnection     Kind = "connection"
	KindAuthentication Kind = "authentication"
	KindTimeout        Kind = "timeout"
	KindProtocol       Kind = "protocol"
	KindDisconnected   Kind = "disconnected"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrConnection     = errors.New("bridge: connection failed")
	ErrAuthentication = errors.New("bridge: authentication failed")
	ErrTimeout        = errors.New("bridge: timed out")
	ErrProtocol       = errors.New("bridge: protocol violation")
	ErrDisconnected   = errors.New("bridge: disconnected")
)

var kindSentinels = map[Kind]error{
	KindConnection:     ErrConnection,
	KindAuthentication: ErrAuthentication,
	KindTimeout:        ErrTimeout,
	KindProtocol:       ErrProtocol,
	KindDisconnected:   ErrDisconnected,
}

// Error is returned by every fallible bridge operation.
type Error struct {
	Kind    Kind
	Session string // handle; empty before a session exists
	Op      string // connect, tick, get_state, enqueue, ...
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("bridge %s: %s", e.Op, e.Kind)
	if e.Session != "" {
		msg = fmt.Sprintf("bridge %s [%s]: %s", e.Op, e.Session, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of a bridge error, or "" for anything else.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

func newError(kind Kind, session, op string, err error) *Error {
	return &Error{Kind: kind, Session: session, Op: op, Err: err}
}
