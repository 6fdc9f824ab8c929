package ankiconnect

import (
	"errors"
	"fmt"
)

// ConnectivityMessage is shown to users when AnkiConnect cannot be reached
// while acquiring a client.
const ConnectivityMessage = "cannot connect to AnkiConnect: make sure Anki is running and the AnkiConnect add-on is installed"

// Kind classifies a failure.
type Kind int

const (
	// KindTransient covers network, timeout and decode failures. Retried;
	// surfaced only once every attempt has failed.
	KindTransient Kind = iota + 1
	// KindLogical means AnkiConnect rejected the request itself. Never retried.
	KindLogical
	// KindConnectivity means the reachability probe failed.
	KindConnectivity
	// KindValidation means the caller's arguments were rejected before any
	// remote call was made.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindLogical:
		return "logical"
	case KindConnectivity:
		return "connectivity"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Cause narrows down a transient failure for diagnostics. It never drives
// retry decisions.
type Cause string

const (
	CauseConnect Cause = "connect"
	CauseDecode  Cause = "decode"
	CauseOther   Cause = "other"
)

// Error is the single failure type returned by this package.
type Error struct {
	Kind    Kind
	Action  string
	Cause   Cause
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " failure"
	}
	if e.Kind == KindConnectivity || e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrLogical) works for
// any logical failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Action != "" || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrTransient    = &Error{Kind: KindTransient}
	ErrLogical      = &Error{Kind: KindLogical}
	ErrConnectivity = &Error{Kind: KindConnectivity}
	ErrValidation   = &Error{Kind: KindValidation}
)

// IsLogical reports whether AnkiConnect rejected the request.
func IsLogical(err error) bool { return errors.Is(err, ErrLogical) }

// IsConnectivity reports whether the failure came from the reachability probe.
func IsConnectivity(err error) bool { return errors.Is(err, ErrConnectivity) }

// IsValidation reports whether the caller's arguments were rejected locally.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// Validationf builds a validation failure.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func logicalError(action, remote string) *Error {
	return &Error{Kind: KindLogical, Action: action, Message: "AnkiConnect error: " + remote}
}

// exhaustedError turns the last transient failure into the one error callers
// see after every attempt has been spent.
func exhaustedError(action string, cause Cause, err error) *Error {
	var msg string
	switch cause {
	case CauseConnect:
		msg = "failed to connect to AnkiConnect"
	case CauseDecode:
		msg = "failed to parse AnkiConnect response"
	default:
		cause = CauseOther
		msg = "AnkiConnect request failed"
	}
	return &Error{Kind: KindTransient, Action: action, Cause: cause, Message: msg, Err: err}
}
