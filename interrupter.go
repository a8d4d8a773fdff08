package evreactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// interrupter is a wakeup-only descriptor backed by an eventfd. It is
// always registered for edge-triggered read-readiness on the reactor's
// epoll and is the sole mechanism behind Stop.
type interrupter struct {
	fd int
}

func newInterrupter() (*interrupter, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &interrupter{fd: fd}, nil
}

func (in *interrupter) close() {
	if in.fd != -1 {
		unix.Close(in.fd)
		in.fd = -1
	}
}

// signal wakes a blocked wait primitive. Retries on EAGAIN/EINTR, since
// a concurrent signal() racing a drain() is expected and harmless.
func (in *interrupter) signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(in.fd, buf[:])
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		return err
	}
}

// drain reads the eventfd once (retrying only on EINTR); without
// EFD_SEMAPHORE a single read resets the counter to zero.
func (in *interrupter) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(in.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}
