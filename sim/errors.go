package sim

import "fmt"

// ErrorKind classifies kernel errors. The server maps kinds onto wire error codes.
type ErrorKind int

const (
	KindInvalidDeadline ErrorKind = iota + 1
	KindHalted
	KindDeadlock
	KindModelError
	KindInvalidConfig
	KindDuplicateEndpoint
	KindSourceNotFound
	KindSinkNotFound
	KindInvalidPayload
	KindTerminated
)

var kindNames = map[ErrorKind]string{
	KindInvalidDeadline:   "invalid deadline",
	KindHalted:            "simulation halted",
	KindDeadlock:          "deadlock",
	KindModelError:        "model error",
	KindInvalidConfig:     "invalid config",
	KindDuplicateEndpoint: "duplicate endpoint",
	KindSourceNotFound:    "source not found",
	KindSinkNotFound:      "sink not found",
	KindInvalidPayload:    "invalid payload",
	KindTerminated:        "simulation terminated",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by every fallible kernel operation.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is reports whether target is a kernel error of the same kind. A target with
// a message only matches an identical message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrInvalidDeadline   = &Error{Kind: KindInvalidDeadline}
	ErrHalted            = &Error{Kind: KindHalted}
	ErrDeadlock          = &Error{Kind: KindDeadlock}
	ErrModel             = &Error{Kind: KindModelError}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig}
	ErrDuplicateEndpoint = &Error{Kind: KindDuplicateEndpoint}
	ErrSourceNotFound    = &Error{Kind: KindSourceNotFound}
	ErrSinkNotFound      = &Error{Kind: KindSinkNotFound}
	ErrInvalidPayload    = &Error{Kind: KindInvalidPayload}
	ErrTerminated        = &Error{Kind: KindTerminated}
)
