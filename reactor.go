package evreactor

import "golang.org/x/sys/unix"

const epollReadyCap = 4096

// Reactor multiplexes I/O readiness, POSIX signal delivery, and
// monotonic timer expiration onto user callbacks. Exactly one
// goroutine must own and drive a Reactor; see the package doc.
type Reactor struct {
	noCopy

	io     *ioSource
	sig    *signalSource
	timer  *timerSource
	interr *interrupter

	registry    list // non-signal registry: I/O + Timer
	sigRegistry list // signal registry
	active      activeQueue

	readyBuf []unix.EpollEvent

	// scoped to the invocation of invokeCallback currently on the
	// stack; a self-Del/self-Cancel inside that callback flips
	// curCanceled, short-circuiting the put-back decision.
	curCleaned  bool
	curCanceled bool

	opts *Options
	log  *Log
}

// NewReactor allocates a Reactor with the given options. Call Init
// before Add/Run.
func NewReactor(opts ...Option) *Reactor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log, _ = NewLog("")
	}
	r := &Reactor{opts: o, log: o.log}
	r.registry.init()
	r.sigRegistry.init()
	r.active = newActiveQueue()
	return r
}

// Init creates the signalfd, timerfd, epoll, and interrupter
// descriptors and registers the signalfd, timerfd, and interrupter on
// the epoll set. On any
// failure it unwinds everything it acquired and returns FAILURE,
// leaving the Reactor re-initializable.
func (r *Reactor) Init() *Error {
	sig, err := newSignalSource()
	if err != nil {
		return newError(FAILURE, err)
	}
	timer, err := newTimerSource(r.opts.timerHeapInitSize)
	if err != nil {
		sig.close()
		return newError(FAILURE, err)
	}
	io, err := newIOSource(r.opts.fdTableInitSize)
	if err != nil {
		timer.close()
		sig.close()
		return newError(FAILURE, err)
	}
	interr, err := newInterrupter()
	if err != nil {
		io.close()
		timer.close()
		sig.close()
		return newError(FAILURE, err)
	}

	for _, fd := range [3]int{sig.fd, timer.fd, interr.fd} {
		if err := io.register(fd, unix.EPOLLIN|unix.EPOLLET); err != nil {
			interr.close()
			io.close()
			timer.close()
			sig.close()
			return newError(FAILURE, err)
		}
	}

	r.sig = sig
	r.timer = timer
	r.io = io
	r.interr = interr
	r.readyBuf = make([]unix.EpollEvent, r.opts.evReadyNum)
	return nil
}

// UnInit cancels every registered event, dispatches them once so their
// callbacks observe CANCELED, then tears everything down.
func (r *Reactor) UnInit() {
	r.cancelAll()
	r.Poll(0)

	if r.interr != nil {
		r.interr.close()
	}
	if r.io != nil {
		r.io.close()
	}
	if r.timer != nil {
		r.timer.close()
	}
	if r.sig != nil {
		r.sig.close()
	}
}

func registryFor(r *Reactor, ev *Event) *list {
	if ev.Flags&Signal != 0 {
		return &r.sigRegistry
	}
	return &r.registry
}

func (r *Reactor) addToRegistry(ev *Event) {
	l := registryFor(r, ev)
	l.pushBack(&ev.registryLink)
	ev.registryLink.ev = ev
	ev.membership |= inRegistry
}

func (r *Reactor) delFromRegistry(ev *Event) {
	l := registryFor(r, ev)
	l.erase(&ev.registryLink)
	ev.membership &^= inRegistry
}

// setup enrolls ev in the source matching its kind.
func (r *Reactor) setup(ev *Event) *Error {
	switch ev.Kind() {
	case KindSignal:
		if err := r.sig.acquire(ev.Target); err != nil {
			return newError(FAILURE, err)
		}
	case KindTimer:
		if err := r.timer.insert(ev); err != nil {
			return newError(FAILURE, err)
		}
	case KindIO:
		if err := r.io.add(ev); err != nil {
			return err
		}
	}
	ev.deliveredFlags = 0
	ev.pendingCount = 0
	ev.reactor = r
	return nil
}

// cleanUp withdraws ev from the source matching its kind. A syscall
// failure here is a steady-state invariant violation, not a
// recoverable error: the reactor's view of kernel state and the
// kernel's actual state have diverged.
func (r *Reactor) cleanUp(ev *Event) {
	switch ev.Kind() {
	case KindSignal:
		if err := r.sig.release(ev.Target); err != nil {
			r.log.Fatal("evreactor: signal release signum=%d: %v", ev.Target, err)
		}
	case KindTimer:
		if ev.Target != -1 {
			if err := r.timer.remove(ev); err != nil {
				r.log.Fatal("evreactor: timer remove: %v", err)
			}
		}
	case KindIO:
		if err := r.io.del(ev); err != nil {
			r.log.Fatal("evreactor: io del fd=%d: %v", ev.Target, err)
		}
	}
	ev.reactor = nil
}

// Add validates ev, rejects it if already bound, and enrolls it in
// the matching source and registry.
func (r *Reactor) Add(ev *Event) *Error {
	if ev == nil {
		return newError(FAILURE, unix.EINVAL)
	}
	if verr := ev.validate(); verr != nil {
		return verr
	}
	if ev.membership != 0 || ev.reactor != nil {
		return newError(EXISTS, nil)
	}
	if err := r.setup(ev); err != nil {
		return err
	}
	r.addToRegistry(ev)
	return nil
}

// Del detaches ev. Called from inside ev's own callback, it degrades
// to an in-callback cancellation per the lifecycle rules.
func (r *Reactor) Del(ev *Event) *Error {
	if ev == nil {
		return newError(FAILURE, unix.EINVAL)
	}
	if ev.reactor != r {
		return newError(NOT_EXISTS, nil)
	}
	if ev.membership&inCallback != 0 {
		r.cancelInsideCB(ev)
		return nil
	}
	r.delFromRegistry(ev)
	if ev.membership&inActive != 0 {
		r.active.erase(ev)
		ev.membership &^= inActive
	}
	r.cleanUp(ev)
	return nil
}

// Cancel behaves like Del except ev's callback is invoked once more
// with CANCELED in the delivered flags before it becomes unbound.
func (r *Reactor) Cancel(ev *Event) *Error {
	if ev == nil {
		return newError(FAILURE, unix.EINVAL)
	}
	if ev.reactor != r {
		return newError(NOT_EXISTS, nil)
	}
	if ev.membership&inCallback != 0 {
		r.cancelInsideCB(ev)
		return nil
	}
	if ev.membership&inRegistry == 0 {
		return newError(NOT_EXISTS, nil)
	}
	r.cancelOutsideCB(ev)
	return nil
}

func (r *Reactor) cancelInsideCB(ev *Event) {
	if !r.curCleaned {
		r.curCleaned = true
		r.cleanUp(ev)
	}
	r.curCanceled = true
}

func (r *Reactor) cancelOutsideCB(ev *Event) {
	if ev.membership&inActive == 0 {
		ev.deliveredFlags = Canceled
		ev.membership |= inActive
		r.active.pushBack(ev)
	} else {
		ev.deliveredFlags |= Canceled
	}
}

// cancelAll schedules a CANCELED delivery for every still-registered
// event, used by UnInit.
func (r *Reactor) cancelAll() {
	r.registry.forEach(func(ev *Event) { r.cancelOutsideCB(ev) })
	r.sigRegistry.forEach(func(ev *Event) { r.cancelOutsideCB(ev) })
}

// invokeCallback detaches ev from its registry, decides whether it
// should be put back, and runs its callback. ev must already have
// been removed from the active list by the caller.
func (r *Reactor) invokeCallback(ev *Event) {
	r.delFromRegistry(ev)

	persist := ev.Flags&Persist != 0 && ev.Kind() != KindTimer
	canceled := ev.deliveredFlags&Canceled != 0
	putBack := persist && !canceled

	if !putBack {
		r.cleanUp(ev)
		r.curCleaned = true
	} else {
		r.curCleaned = false
	}
	r.curCanceled = false

	ev.membership |= inCallback
	delivered := ev.deliveredFlags
	target := ev.Target
	ev.Callback(target, delivered, ev.UserContext)

	ev.membership &^= inCallback

	if !putBack || r.curCanceled {
		return
	}

	r.addToRegistry(ev)

	if ev.Kind() == KindSignal {
		ev.pendingCount--
		if ev.pendingCount > 0 {
			ev.membership |= inActive
			r.active.pushBack(ev)
		}
	}
}

// Poll drains all currently-ready events, invoking up to limit
// callbacks (0 meaning unlimited). It never blocks.
func (r *Reactor) Poll(limit int) int {
	return r.pollImpl(limit, false)
}

// Run behaves like Poll but blocks in the wait primitive when the
// active list is empty, until Stop is called, limit callbacks have
// run, or no events remain registered.
func (r *Reactor) Run(limit int) int {
	return r.pollImpl(limit, true)
}

// Stop wakes a blocked Run so it returns after draining the current
// batch. Idempotent; safe to call from inside a callback.
func (r *Reactor) Stop() error {
	return r.interr.signal()
}

func (r *Reactor) pollImpl(limit int, blocking bool) int {
	number := 0
	timeout := 0
	if blocking {
		timeout = -1
	}

	for {
		for !r.active.empty() {
			ev := r.active.popFront()
			ev.membership &^= inActive
			r.invokeCallback(ev)
			number++
			if limit > 0 && number == limit {
				return number
			}
		}

		if blocking && r.registry.empty() && r.sigRegistry.empty() {
			return number
		}

		n, err := r.waitOnce(timeout)
		if err != nil {
			r.log.Error("evreactor: epoll_wait: %v", err)
			return number
		}

		for i := 0; i < n; i++ {
			fd := int(r.readyBuf[i].Fd)
			switch {
			case fd == r.interr.fd:
				r.interr.drain()
				return number
			case fd == r.sig.fd:
				r.sig.drain(&r.active, &r.sigRegistry)
			case fd == r.timer.fd:
				if err := r.timer.drain(&r.active); err != nil {
					r.log.Fatal("evreactor: timer drain: %v", err)
				}
			default:
				r.io.dispatch(fd, r.readyBuf[i].Events, &r.active)
			}
		}

		if !blocking && n == 0 && r.active.empty() {
			return number
		}

		if n == len(r.readyBuf) && len(r.readyBuf) < epollReadyCap {
			size := len(r.readyBuf) * 2
			if size > epollReadyCap {
				size = epollReadyCap
			}
			r.readyBuf = make([]unix.EpollEvent, size)
		}
	}
}

func (r *Reactor) waitOnce(timeout int) (int, error) {
	for {
		n, err := unix.EpollWait(r.io.epfd, r.readyBuf, timeout)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
