package engine

import "fmt"

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code (of type RetCode) and an error message
type Error struct {
	Code RetCode
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("EngineError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, ErrTransport) matches every transport failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Sentinels for errors.Is
var (
	ErrTransport = NewError(RetCTransport, "transport failure")
	ErrProtocol  = NewError(RetCProtocol, "control protocol violation")
	ErrTableFull = NewError(RetCTableFull, "table full")
	ErrClosed    = NewError(RetCClosed, "engine closed")
	ErrInternal  = NewError(RetCInternal, "internal error")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess   RetCode = iota // 0: operation executed successfully
	RetCTransport                // 1: a bucket fetch or flush failed
	RetCProtocol                 // 2: the host did not follow the control protocol
	RetCTableFull                // 3: no candidate bucket had a free slot
	RetCClosed                   // 4: the engine was closed
	RetCInternal                 // 5: invalid configuration or state
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCTransport:
		return "Transport"
	case RetCProtocol:
		return "Protocol"
	case RetCTableFull:
		return "TableFull"
	case RetCClosed:
		return "Closed"
	case RetCInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}
