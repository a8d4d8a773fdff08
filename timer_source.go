package evreactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// timerSource owns a timerfd programmed in absolute monotonic mode and
// the min-heap of pending Timer events it is kept in sync with.
type timerSource struct {
	fd   int
	heap *timerHeap
}

func newTimerSource(heapCapacity int) (*timerSource, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &timerSource{fd: fd, heap: newTimerHeap(heapCapacity)}, nil
}

func (t *timerSource) close() {
	if t.fd != -1 {
		unix.Close(t.fd)
		t.fd = -1
	}
}

// rearm reprograms the timerfd to the heap's current minimum, or
// disarms it if the heap is empty.
func (t *timerSource) rearm() error {
	var spec unix.ItimerSpec
	if !t.heap.empty() {
		spec.Value = t.heap.top().Deadline
	}
	return unix.TimerfdSettime(t.fd, unix.TFD_TIMER_ABSTIME, &spec, nil)
}

// insert pushes ev onto the heap and reprograms the timerfd if ev
// became the new root.
func (t *timerSource) insert(ev *Event) error {
	ev.Target = -1
	t.heap.push(ev)
	if t.heap.top() == ev {
		return t.rearm()
	}
	return nil
}

// remove erases ev from the heap and reprograms the timerfd if ev was
// the root.
func (t *timerSource) remove(ev *Event) error {
	wasTop := t.heap.top() == ev
	t.heap.erase(ev)
	if wasTop {
		return t.rearm()
	}
	return nil
}

// now returns the current CLOCK_MONOTONIC instant.
func now() (unix.Timespec, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts, err
}

func deadlinePassed(deadline, now unix.Timespec) bool {
	if deadline.Sec != now.Sec {
		return deadline.Sec < now.Sec
	}
	return deadline.Nsec <= now.Nsec
}

// drain discards the timerfd's expiration counter, then pops every
// event whose deadline has passed onto the active list, and finally
// reprograms the timerfd to the new root.
func (t *timerSource) drain(active *activeQueue) error {
	var expirations uint64
	buf := (*[unsafe.Sizeof(expirations)]byte)(unsafe.Pointer(&expirations))[:]
	for {
		_, err := unix.Read(t.fd, buf)
		if err == unix.EINTR {
			continue
		}
		break
	}

	nowTs, err := now()
	if err != nil {
		return err
	}

	for !t.heap.empty() && deadlinePassed(t.heap.top().Deadline, nowTs) {
		ev := t.heap.pop()
		ev.deliveredFlags = Timer
		ev.pendingCount = 1
		ev.membership |= inActive
		active.pushBack(ev)
	}

	return t.rearm()
}
