package evreactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigsetAdd and sigsetDel manipulate a Sigset_t's bitmap directly.
// golang.org/x/sys/unix does not expose sigaddset/sigdelset wrappers,
// so this operates on Sigset_t.Val the same way the kernel's own
// glibc-free sigset layout does: one bit per signal number, 64 bits
// per word, signal 1 is bit 0.
func sigsetAdd(set *unix.Sigset_t, signum int) {
	set.Val[(signum-1)/64] |= 1 << uint((signum-1)%64)
}

func sigsetDel(set *unix.Sigset_t, signum int) {
	set.Val[(signum-1)/64] &^= 1 << uint((signum-1)%64)
}

func sigsetOf(signum int) unix.Sigset_t {
	var set unix.Sigset_t
	sigsetAdd(&set, signum)
	return set
}

// signalSource owns a signalfd and a per-signal reference count. It
// masks/unmasks signals process-wide as events acquire and release
// them, and fans received siginfo records out to the signal registry.
type signalSource struct {
	fd       int
	mask     unix.Sigset_t
	oldMask  unix.Sigset_t
	refcount [numSignals]int
}

func newSignalSource() (*signalSource, error) {
	var oldMask unix.Sigset_t
	if err := unix.PthreadSigmask(0, nil, &oldMask); err != nil {
		return nil, err
	}
	s := &signalSource{oldMask: oldMask}
	fd, err := unix.Signalfd(-1, &s.mask, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	s.fd = fd
	return s, nil
}

// close restores the signal mask captured at construction time, the
// same composability guarantee the original reactor's signal-mask
// lifecycle documents.
func (s *signalSource) close() {
	if s.fd != -1 {
		unix.Close(s.fd)
		s.fd = -1
	}
	unix.PthreadSigmask(unix.SIG_SETMASK, &s.oldMask, nil)
}

// acquire adds signum to the watched/blocked set if this is its first
// registered event.
func (s *signalSource) acquire(signum int) error {
	if s.refcount[signum] == 0 {
		sigsetAdd(&s.mask, signum)
		if _, err := unix.Signalfd(s.fd, &s.mask, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK); err != nil {
			sigsetDel(&s.mask, signum)
			return err
		}
		block := sigsetOf(signum)
		if err := unix.PthreadSigmask(unix.SIG_BLOCK, &block, nil); err != nil {
			return err
		}
	}
	s.refcount[signum]++
	return nil
}

// release removes signum from the watched/blocked set once its last
// registered event goes away.
func (s *signalSource) release(signum int) error {
	s.refcount[signum]--
	if s.refcount[signum] == 0 {
		sigsetDel(&s.mask, signum)
		if _, err := unix.Signalfd(s.fd, &s.mask, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK); err != nil {
			return err
		}
		unblock := sigsetOf(signum)
		if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, &unblock, nil); err != nil {
			return err
		}
	}
	return nil
}

// drain reads every pending siginfo record off the signalfd and, for
// each, linearly scans registry for events targeting that signum,
// activating or bumping pendingCount per §4.4.
func (s *signalSource) drain(active *activeQueue, registry *list) {
	var info unix.SignalfdSiginfo
	buf := (*[unsafe.Sizeof(info)]byte)(unsafe.Pointer(&info))[:]

	for {
		n, err := unix.Read(s.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil || n != len(buf) {
			return
		}

		signum := int(info.Signo)
		registry.forEach(func(ev *Event) {
			if ev.Target != signum {
				return
			}
			if ev.membership&inActive == 0 {
				ev.deliveredFlags = Signal
				ev.pendingCount = 1
				ev.membership |= inActive
				active.pushBack(ev)
			} else {
				ev.pendingCount++
			}
		})
	}
}
