package server

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/inference-sim/simbench/sim"
)

// ErrorCode is the wire classification of a failed request.
type ErrorCode int

const (
	CodeInternalError ErrorCode = iota
	CodeSimulationNotStarted
	CodeBenchPanic
	CodeInvalidMessage
	CodeMissingArgument
	CodeInvalidKey
	CodeInvalidDeadline
	CodeSimulationHalted
	CodeSimulationDeadlock
	CodeModelError
	CodeInvalidConfig
	CodeSourceNotFound
	CodeSinkNotFound
	CodeInvalidPayload
	CodeSimulationTerminated
	CodeTimeout
)

var codeNames = [...]string{
	CodeInternalError:        "InternalError",
	CodeSimulationNotStarted: "SimulationNotStarted",
	CodeBenchPanic:           "BenchPanic",
	CodeInvalidMessage:       "InvalidMessage",
	CodeMissingArgument:      "MissingArgument",
	CodeInvalidKey:           "InvalidKey",
	CodeInvalidDeadline:      "InvalidDeadline",
	CodeSimulationHalted:     "SimulationHalted",
	CodeSimulationDeadlock:   "SimulationDeadlock",
	CodeModelError:           "ModelError",
	CodeInvalidConfig:        "InvalidConfig",
	CodeSourceNotFound:       "SourceNotFound",
	CodeSinkNotFound:         "SinkNotFound",
	CodeInvalidPayload:       "InvalidPayload",
	CodeSimulationTerminated: "SimulationTerminated",
	CodeTimeout:              "Timeout",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

var kindCodes = map[sim.ErrorKind]ErrorCode{
	sim.KindInvalidDeadline:   CodeInvalidDeadline,
	sim.KindHalted:            CodeSimulationHalted,
	sim.KindDeadlock:          CodeSimulationDeadlock,
	sim.KindModelError:        CodeModelError,
	sim.KindInvalidConfig:     CodeInvalidConfig,
	sim.KindDuplicateEndpoint: CodeInvalidConfig,
	sim.KindSourceNotFound:    CodeSourceNotFound,
	sim.KindSinkNotFound:      CodeSinkNotFound,
	sim.KindInvalidPayload:    CodeInvalidPayload,
	sim.KindTerminated:        CodeSimulationTerminated,
}

// ErrorReply is attached to every reply of a failed request.
type ErrorReply struct {
	Code    ErrorCode `cbor:"code"`
	Message string    `cbor:"message"`
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("%v: %s", e.Code, e.Message)
}

// requestError carries a wire code for failures detected by the server itself.
type requestError struct {
	code ErrorCode
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func errorf(code ErrorCode, format string, args ...any) error {
	return &requestError{code: code, msg: fmt.Sprintf(format, args...)}
}

var errNotStarted = errorf(CodeSimulationNotStarted, "the simulation was not started")

func toErrorReply(err error) *ErrorReply {
	if err == nil {
		return nil
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return &ErrorReply{Code: reqErr.code, Message: reqErr.msg}
	}
	var simErr *sim.Error
	if errors.As(err, &simErr) {
		if code, ok := kindCodes[simErr.Kind]; ok {
			return &ErrorReply{Code: code, Message: err.Error()}
		}
	}
	return &ErrorReply{Code: CodeInternalError, Message: err.Error()}
}

// Reply is the envelope of every response body.
type Reply[T any] struct {
	Result T           `cbor:"result"`
	Error  *ErrorReply `cbor:"error,omitempty"`
}

// Empty is the result of requests that return nothing.
type Empty struct{}

type InitRequest struct {
	// Cfg is the CBOR-encoded bench configuration; empty selects the zero value.
	Cfg cbor.RawMessage `cbor:"cfg,omitempty"`
}

type InitReply struct {
	Session string        `cbor:"session"`
	Time    sim.Timestamp `cbor:"time"`
}

type TimeReply struct {
	Time sim.Timestamp `cbor:"time"`
}

// StepUntilRequest sets either an absolute Deadline or a Duration relative
// to the current time.
type StepUntilRequest struct {
	Deadline *sim.Timestamp `cbor:"deadline,omitempty"`
	Duration *sim.Duration  `cbor:"duration,omitempty"`
}

// ScheduleEventRequest sets either an absolute Deadline or a Duration
// relative to the current time.
type ScheduleEventRequest struct {
	Source   string          `cbor:"source_name"`
	Event    cbor.RawMessage `cbor:"event,omitempty"`
	Deadline *sim.Timestamp  `cbor:"deadline,omitempty"`
	Duration *sim.Duration   `cbor:"duration,omitempty"`
	WithKey  bool            `cbor:"with_key,omitempty"`
}

type ScheduleEventReply struct {
	Key *uint64 `cbor:"key,omitempty"`
}

type CancelEventRequest struct {
	Key uint64 `cbor:"key"`
}

type ProcessEventRequest struct {
	Source string          `cbor:"source_name"`
	Event  cbor.RawMessage `cbor:"event,omitempty"`
}

type SinkRequest struct {
	Sink string `cbor:"sink_name"`
}

// AwaitEventRequest waits up to Timeout for the next event on a sink. A zero
// timeout waits until the request is cancelled.
type AwaitEventRequest struct {
	Sink    string       `cbor:"sink_name"`
	Timeout sim.Duration `cbor:"timeout"`
}

type AwaitEventReply struct {
	Event cbor.RawMessage `cbor:"event"`
}

type ReadEventsReply struct {
	Events []cbor.RawMessage `cbor:"events"`
}
