package evreactor

import "fmt"

// Code is the reactor's single integer error space, mirroring the
// error codes a C reactor would return alongside errno.
type Code int

const (
	// OK means success.
	OK Code = 0
	// FAILURE means a system call or validation failed; Err carries the detail.
	FAILURE Code = -1
	// EXISTS means the registration conflicts with one already present.
	EXISTS Code = -2
	// NOT_EXISTS means the target event is not registered on this reactor.
	NOT_EXISTS Code = -3
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case FAILURE:
		return "FAILURE"
	case EXISTS:
		return "EXISTS"
	case NOT_EXISTS:
		return "NOT_EXISTS"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is returned by every fallible Reactor operation. Err, when
// non-nil, is usually the unix.Errno from the failing syscall,
// so callers can errors.Is/errors.As through it.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evreactor: %s: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("evreactor: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}
