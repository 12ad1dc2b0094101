package message

// IDAllocator hands out fresh, non-zero 32-bit stream ids for one peer.
//
// It is not safe for concurrent use; the broker is the sole owner of its
// allocator and calls Next only from its single event-loop goroutine.
type IDAllocator struct {
	next uint32
}

// NewIDAllocator returns an allocator starting at id 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: 1}
}

// Next returns the next id and advances the counter. When the counter
// reaches the maximum 32-bit value, it wraps back to 1. Callers are
// responsible for never reusing an id still in flight; with a 32-bit
// space this is a safety net, not a practical hazard.
func (a *IDAllocator) Next() uint32 {
	id := a.next
	if a.next == 1<<32-1 {
		a.next = 1
	} else {
		a.next++
	}
	return id
}
