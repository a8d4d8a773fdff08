package evreactor

// timerHeap is a binary min-heap of Timer events keyed by Deadline,
// with each element's current index stored back into the event's
// Target field (a Timer has no file descriptor to otherwise occupy
// that slot). Only the deadline is compared; the heap keeps no
// insertion sequence, so the pop order of events with equal deadlines
// is not defined (it is not insertion order).
type timerHeap struct {
	items []*Event
}

func newTimerHeap(capacity int) *timerHeap {
	return &timerHeap{items: make([]*Event, 0, capacity)}
}

func (h *timerHeap) empty() bool { return len(h.items) == 0 }
func (h *timerHeap) len() int    { return len(h.items) }

func (h *timerHeap) top() *Event {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

func deadlineGreater(a, b *Event) bool {
	if a.Deadline.Sec != b.Deadline.Sec {
		return a.Deadline.Sec > b.Deadline.Sec
	}
	return a.Deadline.Nsec > b.Deadline.Nsec
}

func (h *timerHeap) shiftUp(holeIndex int, node *Event) {
	parent := (holeIndex - 1) / 2
	for holeIndex > 0 && deadlineGreater(h.items[parent], node) {
		h.items[holeIndex] = h.items[parent]
		h.items[holeIndex].Target = holeIndex
		holeIndex = parent
		parent = (holeIndex - 1) / 2
	}
	h.items[holeIndex] = node
	node.Target = holeIndex
}

func (h *timerHeap) shiftDown(holeIndex int, node *Event) {
	minChild := holeIndex*2 + 1
	for minChild < len(h.items) {
		if minChild+1 < len(h.items) && deadlineGreater(h.items[minChild], h.items[minChild+1]) {
			minChild++
		}
		if !deadlineGreater(node, h.items[minChild]) {
			break
		}
		h.items[holeIndex] = h.items[minChild]
		h.items[holeIndex].Target = holeIndex
		holeIndex = minChild
		minChild = holeIndex*2 + 1
	}
	h.shiftUp(holeIndex, node)
}

// push inserts ev, currently not heap-resident (Target == -1).
func (h *timerHeap) push(ev *Event) {
	h.items = append(h.items, nil)
	h.shiftUp(len(h.items)-1, ev)
}

// pop removes and returns the root.
func (h *timerHeap) pop() *Event {
	root := h.items[0]
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	if len(h.items) > 0 {
		h.shiftDown(0, last)
	}
	root.Target = -1
	return root
}

// erase removes ev from wherever it currently sits in the heap, using
// its stored index.
func (h *timerHeap) erase(ev *Event) {
	idx := ev.Target
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	ev.Target = -1
	if idx == len(h.items) {
		return
	}
	parent := (idx - 1) / 2
	if idx > 0 && deadlineGreater(h.items[parent], last) {
		h.shiftUp(idx, last)
	} else {
		h.shiftDown(idx, last)
	}
}
