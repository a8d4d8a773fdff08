package evreactor

import "golang.org/x/sys/unix"

const ioTableInitSize = 32

// ioPair is the read/write slot pair an fd may hold, at most one
// Event per direction (a single Event may occupy both).
type ioPair struct {
	read  *Event
	write *Event
}

// ioSource owns the epoll descriptor and an fd-indexed table of
// ioPairs, merging read/write registrations that share one fd into a
// single kernel epoll_ctl call.
type ioSource struct {
	epfd  int
	table []ioPair
}

func newIOSource(tableInitSize int) (*ioSource, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if tableInitSize <= 0 {
		tableInitSize = ioTableInitSize
	}
	return &ioSource{epfd: epfd, table: make([]ioPair, tableInitSize)}, nil
}

func (s *ioSource) close() {
	if s.epfd != -1 {
		unix.Close(s.epfd)
		s.epfd = -1
	}
}

// register adds fd to the epoll set with the given kernel event mask,
// used once at Init for the signalfd/timerfd/interrupter carriers.
func (s *ioSource) register(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (s *ioSource) growTo(fd int) {
	if fd < len(s.table) {
		return
	}
	newSize := len(s.table)
	if newSize == 0 {
		newSize = ioTableInitSize
	}
	for fd >= newSize {
		newSize <<= 1
	}
	grown := make([]ioPair, newSize)
	copy(grown, s.table)
	s.table = grown
}

// add registers ev's fd/direction with epoll, merging with whatever
// direction is already registered on that fd.
func (s *ioSource) add(ev *Event) *Error {
	fd := ev.Target
	s.growTo(fd)
	pair := &s.table[fd]

	if ev.Flags&Read != 0 && pair.read != nil {
		return newError(EXISTS, nil)
	}
	if ev.Flags&Write != 0 && pair.write != nil {
		return newError(EXISTS, nil)
	}

	op := unix.EPOLL_CTL_ADD
	var events uint32
	if ev.Flags&EdgeTrigger != 0 {
		events |= unix.EPOLLET
	}
	if pair.read != nil {
		events |= unix.EPOLLIN
		op = unix.EPOLL_CTL_MOD
	}
	if pair.write != nil {
		events |= unix.EPOLLOUT
		op = unix.EPOLL_CTL_MOD
	}
	if ev.Flags&Read != 0 {
		events |= unix.EPOLLIN
	}
	if ev.Flags&Write != 0 {
		events |= unix.EPOLLOUT
	}

	epev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, op, fd, &epev); err != nil {
		return newError(FAILURE, err)
	}

	if ev.Flags&Read != 0 {
		pair.read = ev
	}
	if ev.Flags&Write != 0 {
		pair.write = ev
	}
	return nil
}

// del unregisters ev's direction(s), downgrading the kernel
// registration to MOD with whatever direction remains, or DEL if none
// does.
func (s *ioSource) del(ev *Event) error {
	fd := ev.Target
	pair := &s.table[fd]

	wantRead := pair.read != nil && pair.read != ev
	wantWrite := pair.write != nil && pair.write != ev

	op := unix.EPOLL_CTL_DEL
	var events uint32
	if wantRead {
		events |= unix.EPOLLIN
		op = unix.EPOLL_CTL_MOD
	}
	if wantWrite {
		events |= unix.EPOLLOUT
		op = unix.EPOLL_CTL_MOD
	}

	epev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, op, fd, &epev); err != nil {
		return err
	}

	if pair.read == ev {
		pair.read = nil
	}
	if pair.write == ev {
		pair.write = nil
	}
	return nil
}

// schedule activates ev with flags, or merges flags into its pending
// delivered set if it is already active but not yet dispatched.
func schedule(ev *Event, flags Flag, active *activeQueue) {
	if ev.membership&inActive != 0 {
		ev.deliveredFlags |= flags
		return
	}
	ev.deliveredFlags = flags
	ev.pendingCount = 1
	ev.membership |= inActive
	active.pushBack(ev)
}

// dispatch fans a single fd's kernel readiness out onto the active
// list. Scheduling the same Event twice when it holds both directions
// is handled by schedule's already-active merge.
func (s *ioSource) dispatch(fd int, kernelEvents uint32, active *activeQueue) {
	pair := &s.table[fd]

	if kernelEvents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		if pair.read != nil {
			schedule(pair.read, Err, active)
		}
		if pair.write != nil {
			schedule(pair.write, Err, active)
		}
		return
	}
	if kernelEvents&unix.EPOLLIN != 0 && pair.read != nil {
		schedule(pair.read, Read, active)
	}
	if kernelEvents&unix.EPOLLOUT != 0 && pair.write != nil {
		schedule(pair.write, Write, active)
	}
}
