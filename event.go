package evreactor

import (
	"golang.org/x/sys/unix"
)

// noCopy may be embedded into structs that must not be copied after the
// first use. go vet's copylocks check flags any value (or containing
// struct) passed by value once it has a Lock method.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Flag is a bitmask describing both an event's kind and its behavior.
// Read/Write/Signal/Timer are mutually exclusive kind bits (Read and
// Write may combine on one I/O event); Persist and EdgeTrigger modify
// how the event is re-armed; Err and Canceled are reserved, set only
// by the reactor when delivering a callback.
type Flag uint32

const (
	// Read marks an I/O event interested in read-readiness.
	Read Flag = 1 << iota
	// Write marks an I/O event interested in write-readiness.
	Write
	// Signal marks a Signal event. Target holds the signal number.
	Signal
	// Timer marks a Timer event. Deadline holds its absolute fire time.
	Timer
	// Persist keeps the event registered after it fires. Ignored on Timer.
	Persist
	// EdgeTrigger is forwarded to epoll for I/O events. Ignored on
	// Signal and Timer.
	EdgeTrigger

	// Err is set by the reactor when epoll reports EPOLLERR|EPOLLHUP.
	// Callers must never set it on Add.
	Err Flag = 1 << 12
	// Canceled is set by the reactor on a Cancel delivery. Callers
	// must never set it on Add.
	Canceled Flag = 1 << 13
)

// reservedOnAdd are the flags a caller must never pre-set.
const reservedOnAdd = Err | Canceled

// numSignals mirrors Linux's _NSIG: real-time signals run 1..64, so a
// refcount/mask array indexed [0, numSignals) covers every valid
// signal number with a little headroom for index 0.
const numSignals = 65

// kindMask isolates the bits that identify an event's kind.
const kindMask = Read | Write | Signal | Timer

// Kind is the mutually-exclusive category an Event belongs to.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIO
	KindSignal
	KindTimer
)

// kind derives the Kind implied by f's kind bits. It does not validate
// that exactly one kind is set; callers needing that guarantee go
// through validateFlags first.
func (f Flag) kind() Kind {
	switch {
	case f&Signal != 0:
		return KindSignal
	case f&Timer != 0:
		return KindTimer
	case f&(Read|Write) != 0:
		return KindIO
	default:
		return KindUnknown
	}
}

// Callback receives the event's target (fd, signal number, or -1 for a
// dispatched Timer), the set of flags actually being delivered, and the
// opaque user context supplied at construction.
type Callback func(target int, delivered Flag, userContext any)

// membership tracks which of the reactor's structures currently
// reference an Event. IN_REGISTRY and IN_CALLBACK are mutually
// exclusive: an event is detached from its registry for the duration
// of its callback.
type membership uint8

const (
	inRegistry membership = 1 << iota
	inActive
	inCallback
)

// Event is the unit of registration. Users own its storage; the
// reactor holds only a non-owning back-reference while the event is
// bound. An Event must not be copied once it has been added to a
// Reactor, and must not be freed while any membership bit is set.
type Event struct {
	noCopy

	// Target is, for I/O, a file descriptor >= 0; for Signal, a
	// signal number in [0, NSIG); for Timer, the heap index while
	// heap-resident, or -1 otherwise. Set Target for I/O and Signal
	// events before Add; leave it untouched for Timer events.
	Target int
	// Deadline is the absolute CLOCK_MONOTONIC instant a Timer event
	// fires at. Unused for I/O and Signal.
	Deadline unix.Timespec
	// Flags is the caller-requested subset of {Read, Write, Signal,
	// Timer, Persist, EdgeTrigger}. Exactly one kind bit must be set.
	Flags Flag
	// Callback is invoked on firing, persistence renewal, or
	// cancellation. Must not be nil.
	Callback Callback
	// UserContext is opaque to the reactor and passed back verbatim.
	UserContext any

	deliveredFlags Flag
	pendingCount   int
	membership     membership
	reactor        *Reactor

	registryLink listNode
}

// Kind reports the mutually-exclusive category e.Flags implies.
func (e *Event) Kind() Kind { return e.Flags.kind() }

// Bound reports whether e is currently registered with a Reactor.
func (e *Event) Bound() bool { return e.reactor != nil }

// Del removes e from its owning reactor. A convenience for
// e.reactor.Del(e); it is a no-op error if e is not bound.
func (e *Event) Del() *Error {
	if e.reactor == nil {
		return newError(NOT_EXISTS, nil)
	}
	return e.reactor.Del(e)
}

// Cancel schedules one more CANCELED delivery to e before it becomes
// unbound. A convenience for e.reactor.Cancel(e).
func (e *Event) Cancel() *Error {
	if e.reactor == nil {
		return newError(NOT_EXISTS, nil)
	}
	return e.reactor.Cancel(e)
}

// NewTimerEvent builds a Timer event firing at the absolute monotonic
// instant deadline, carrying the supplied callback and user context.
// It supplements the general Event literal with the timer-only
// shorthand the original library exposed as a dedicated constructor.
func NewTimerEvent(deadline unix.Timespec, cb Callback, userContext any) *Event {
	return &Event{
		Target:      -1,
		Deadline:    deadline,
		Flags:       Timer,
		Callback:    cb,
		UserContext: userContext,
	}
}

// validateFlags checks the kind-exclusivity and reserved-bit rules of
// §4.8: exactly one kind bit, no caller-set Err or Canceled.
func validateFlags(f Flag) bool {
	if f&reservedOnAdd != 0 {
		return false
	}
	count := 0
	if f&(Read|Write) != 0 {
		count++
	}
	if f&Signal != 0 {
		count++
	}
	if f&Timer != 0 {
		count++
	}
	return count == 1
}

// validate applies the rest of §4.8 once kind exclusivity is known
// good: per-kind target range and a non-nil callback.
func (e *Event) validate() *Error {
	if !validateFlags(e.Flags) {
		return newError(FAILURE, unix.EINVAL)
	}
	switch e.Flags.kind() {
	case KindIO:
		if e.Target < 0 {
			return newError(FAILURE, unix.EINVAL)
		}
	case KindSignal:
		if e.Target < 0 || e.Target >= numSignals {
			return newError(FAILURE, unix.EINVAL)
		}
	case KindTimer:
		if e.Deadline.Sec < 0 || (e.Deadline.Sec == 0 && e.Deadline.Nsec <= 0) {
			return newError(FAILURE, unix.EINVAL)
		}
	}
	if e.Callback == nil {
		return newError(FAILURE, unix.EINVAL)
	}
	return nil
}
