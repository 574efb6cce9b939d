// Package xerrors defines the taxonomized error kinds shared by every
// bridge component, following the wrap-with-message shape of the
// teacher serial package's Error type.
package xerrors

import "fmt"

// Kind is one of the error taxonomies from the bridge error handling
// design: ValueOutOfRange, NotReady, NotConnected, Timeout,
// DeviceException, Crc, ShortRead, SerialTransport, OsError,
// UnknownCommand, InternalInvariant, RelayError.
type Kind string

const (
	ValueOutOfRange  Kind = "ValueOutOfRange"
	NotReady         Kind = "NotReady"
	NotConnected     Kind = "NotConnected"
	Timeout          Kind = "Timeout"
	DeviceException  Kind = "DeviceException"
	Crc              Kind = "Crc"
	ShortRead        Kind = "ShortRead"
	SerialTransport  Kind = "SerialTransport"
	OsError          Kind = "OsError"
	UnknownCommand   Kind = "UnknownCommand"
	InternalInvariant Kind = "InternalInvariant"
	RelayError       Kind = "RelayError"
)

// Error is a taxonomized error: a Kind, a human message, and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s", e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, xerrors.New(SomeKind, "", nil)) to match
// purely on Kind, ignoring Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a taxonomized error.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Of reports the Kind carried by err, if any.
func Of(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	if x, ok := err.(*Error); ok {
		return x.Kind, true
	}
	return "", false
}

// Sentinel, kind-only values usable with errors.Is.
var (
	ErrValueOutOfRange  = &Error{Kind: ValueOutOfRange}
	ErrNotReady         = &Error{Kind: NotReady}
	ErrNotConnected     = &Error{Kind: NotConnected}
	ErrTimeout          = &Error{Kind: Timeout}
	ErrCrc              = &Error{Kind: Crc}
	ErrShortRead        = &Error{Kind: ShortRead}
	ErrUnknownCommand   = &Error{Kind: UnknownCommand}
	ErrInternalInvariant = &Error{Kind: InternalInvariant}
)
