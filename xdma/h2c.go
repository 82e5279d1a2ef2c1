package xdma

// H2C wraps a host-to-card Channel, offering the producer-side convenience
// of pulling the next free pre-bound buffer instead of tracking ring slots
// directly. Only meaningful when Config.Segmentation is set.
type H2C struct {
	ch *Channel
}

// NewH2C adapts an already-configured host-to-card Channel. ch must have
// been created with Config.Direction == DirectionH2C.
func NewH2C(ch *Channel) *H2C {
	return &H2C{ch: ch}
}

// NextBuffer returns the host buffer backing the next free ring slot, ready
// to be filled by the caller and handed to StartPopulated. ok is false when
// the ring has no free slot or the channel isn't pre-bound.
func (h *H2C) NextBuffer() (buf []byte, ok bool) {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()

	if !h.ch.ring.preBound {
		return nil, false
	}
	if uint32(h.ch.ring.n)-1-h.ch.inUse == 0 {
		return nil, false
	}

	return h.ch.ring.descs[h.ch.head].hostBuf, true
}

// Channel returns the underlying Channel.
func (h *H2C) Channel() *Channel {
	return h.ch
}
