package message

// slotRing is a fixed-size FIFO of free slots.
type slotRing struct {
	slots      []*slot
	head, tail uint
	count      uint
}

func newSlotRing(size uint) *slotRing {
	return &slotRing{slots: make([]*slot, size)}
}

// push returns false if the ring is full.
func (r *slotRing) push(s *slot) bool {
	if r.count == uint(len(r.slots)) {
		return false
	}

	r.slots[r.tail] = s
	r.tail = r.advance(r.tail)
	r.count++

	return true
}

// pop returns nil if the ring is empty.
func (r *slotRing) pop() *slot {
	if r.count == 0 {
		return nil
	}

	s := r.slots[r.head]
	r.slots[r.head] = nil
	r.head = r.advance(r.head)
	r.count--

	return s
}

func (r *slotRing) len() uint { return r.count }

func (r *slotRing) advance(n uint) uint {
	return (n + 1) % uint(len(r.slots))
}
