package xdma

// C2H wraps a card-to-host Channel, offering the consumer-side convenience
// of queuing the next free pre-bound buffer for the engine to fill. Only
// meaningful when Config.Segmentation is set; StreamContinuous channels
// queue all of their buffers at Configure time and PollCompleted re-queues
// each reaped slot itself, so StartNext finds no free slot on them.
type C2H struct {
	ch *Channel
}

// NewC2H adapts an already-configured card-to-host Channel. ch must have
// been created with Config.Direction == DirectionC2H.
func NewC2H(ch *Channel) *C2H {
	return &C2H{ch: ch}
}

// StartNext queues the next free pre-bound buffer to receive data from the
// card, returning false if the ring has no free slot, the channel isn't
// pre-bound, or the submission was rejected (see Channel.Err). On a Failed
// channel the submission is dropped without error and StartNext returns
// true.
func (c *C2H) StartNext() bool {
	c.ch.mu.Lock()
	if !c.ch.ring.preBound || uint32(c.ch.ring.n)-1-c.ch.inUse == 0 {
		c.ch.mu.Unlock()
		return false
	}
	idx := c.ch.head
	hostBuf := c.ch.ring.descs[idx].hostBuf
	c.ch.mu.Unlock()

	fill := DescriptorFill{HostBuf: hostBuf, Length: uint32(len(hostBuf))}
	return c.ch.StartPopulated([]DescriptorFill{fill}) == nil
}

// Channel returns the underlying Channel.
func (c *C2H) Channel() *Channel {
	return c.ch
}
