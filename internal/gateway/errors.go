package gateway

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

// ErrorKind classifies gateway failures.
type ErrorKind int

const (
	KindConnection ErrorKind = iota + 1
	KindRegistration
	KindWrite
	KindConfigLoad
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindRegistration:
		return "RegistrationError"
	case KindWrite:
		return "WriteError"
	case KindConfigLoad:
		return "ConfigLoadError"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrConnection   = errors.New("gateway connection error")
	ErrRegistration = errors.New("gateway registration error")
	ErrWrite        = errors.New("gateway write error")
	ErrConfigLoad   = errors.New("configuration load error")
)

var (
	ErrNotConnected           = errors.New("gateway not connected")
	ErrTopicNotInitialized    = errors.New("topic not initialized")
	ErrPublisherNotRegistered = errors.New("publisher not registered")
)

// Error is returned by every failing gateway operation.
type Error struct {
	Kind  ErrorKind
	Op    string
	Topic amm.TopicKind
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Topic != "" {
		msg += " " + string(e.Topic)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so callers can test errors.Is(err, ErrWrite).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrRegistration:
		return e.Kind == KindRegistration
	case ErrWrite:
		return e.Kind == KindWrite
	case ErrConfigLoad:
		return e.Kind == KindConfigLoad
	}
	return false
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, topic amm.TopicKind, err error) *Error {
	return &Error{Kind: kind, Op: op, Topic: topic, Err: err}
}

// KindOf returns the kind of a gateway error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}
