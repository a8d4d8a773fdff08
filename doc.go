// Package evreactor implements a single-threaded event reactor that
// multiplexes file-descriptor readiness, POSIX signal delivery, and
// monotonic timer expiration onto user-supplied callbacks.
//
// A Reactor owns a signalfd, a timerfd, an epoll descriptor and an
// eventfd-backed interrupter, all folded into one epoll_wait call. It
// is the runtime foundation on which a process builds non-blocking
// network services and deadline-driven work: register an Event, call
// Run, and callbacks fire on the same goroutine that called Run.
//
// The reactor is not internally synchronized. Exactly one goroutine
// must own and drive a given Reactor; callbacks run on that goroutine.
// Stop is the only method meant to be called from elsewhere (from
// inside a callback, or from a context holding the Reactor pointer).
package evreactor
