package xdma

import (
	"fmt"
	"sync"
	"time"
)

// State is a Channel's position in its lifecycle.
type State int

const (
	// StateIdle is the state after Configure, before the first
	// submission. StartPopulated is only accepted from here or from
	// StateRunning.
	StateIdle State = iota
	// StateRunning means the engine has been told to Run and has one or
	// more descriptors in flight or queued.
	StateRunning
	// StateDraining is entered by Finalize while waiting for in-flight
	// descriptors to complete after Run has been cleared.
	StateDraining
	// StateFailed is terminal: the channel latched an error and will not
	// accept further submissions.
	StateFailed
	// StateFinalized is terminal: Finalize completed, the engine is
	// stopped and the channel is no longer usable.
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// finalizeTimeout bounds how long Finalize busy-waits for the engine to go
// idle once Run has been cleared.
const finalizeTimeout = 1 * time.Second

// pollInterval is how often a wait loop yields the processor while
// busy-polling a register or completed-count word.
const pollInterval = 0

// DescriptorFill is one caller-supplied transfer submitted through
// StartPopulated. For a pre-bound channel (Config.Segmentation set),
// HostBuf and CardAddr are ignored: the slot's bound buffer and card
// address are used and only Length/EOP are consulted.
type DescriptorFill struct {
	// HostBuf is the host-side buffer for this descriptor. Must lie
	// within Config.DataRegion so the core can translate it to an IOVA.
	HostBuf []byte
	// CardAddr is the AXI Memory-Mapped card-side address. Ignored for
	// AXI Stream channels (BridgeMemorySize == 0).
	CardAddr uint64
	// Length is the transfer byte count for this descriptor.
	Length uint32
	// EOP marks the end of a packet on an AXI Stream channel. Ignored
	// for AXI Memory-Mapped channels.
	EOP bool
}

// Channel drives one H2C or C2H scatter-gather DMA engine: a fixed-size
// descriptor ring plus the channel/SGDMA register blocks that feed it.
type Channel struct {
	mu sync.Mutex

	cfg  Config
	regs regBlock
	ring *ring

	addrAlignment  uint32
	lenGranularity uint32

	state State
	err   *latchedError

	head  int // next free slot to submit into
	tail  int // oldest in-flight slot, next to reclaim
	inUse uint32

	previousCompletedCount uint32
	numPendingCompleted    uint32

	deadline    time.Time
	hasDeadline bool
}

// Configure validates cfg, probes the channel's identification and
// alignment registers, carves the descriptor ring out of
// cfg.DescriptorRegion, and returns a Channel ready to accept
// StartPopulated calls.
func Configure(cfg Config) (*Channel, error) {
	if cfg.NumDescriptors < 2 {
		return nil, newLatchedError(ErrorKindInvalidConfig, "NumDescriptors must be >= 2, got %d", cfg.NumDescriptors)
	}
	if cfg.AddrAlignment == 0 || cfg.AddrAlignment&(cfg.AddrAlignment-1) != 0 {
		return nil, newLatchedError(ErrorKindInvalidConfig, "AddrAlignment must be a power of two, got %d", cfg.AddrAlignment)
	}
	if cfg.LenGranularity == 0 {
		return nil, newLatchedError(ErrorKindInvalidConfig, "LenGranularity must be nonzero")
	}
	if cfg.StreamContinuous && (cfg.Direction != DirectionC2H || cfg.BridgeMemorySize != 0) {
		return nil, newLatchedError(ErrorKindInvalidConfig, "StreamContinuous requires Direction=C2H and BridgeMemorySize=0")
	}
	if cfg.BAR == nil {
		return nil, newLatchedError(ErrorKindInvalidConfig, "BAR is nil")
	}

	bridgeCaps, err := ProbeBridge(cfg.BAR)
	if err != nil {
		return nil, err
	}

	numChannels := bridgeCaps.NumH2C
	if cfg.Direction == DirectionC2H {
		numChannels = bridgeCaps.NumC2H
	}
	if cfg.ChannelIndex < 0 || cfg.ChannelIndex >= numChannels {
		return nil, newLatchedError(ErrorKindChannelMisconfigured, "channel index %d out of range [0,%d)", cfg.ChannelIndex, numChannels)
	}

	if _, err := ProbeChannel(cfg.BAR, cfg.Direction, cfg.ChannelIndex); err != nil {
		return nil, err
	}

	regs := newRegBlock(cfg.BAR, cfg.Direction, cfg.ChannelIndex)

	r, err := newRing(cfg)
	if err != nil {
		return nil, err
	}

	regs.setWritebackAddr(r.completedIOVA)

	c := &Channel{
		cfg:            cfg,
		regs:           regs,
		ring:           r,
		addrAlignment:  cfg.AddrAlignment,
		lenGranularity: cfg.LenGranularity,
		state:          StateIdle,
	}

	if cfg.TimeoutSeconds >= 0 {
		c.hasDeadline = true
	}

	if cfg.StreamContinuous {
		// Pre-queued descriptors are each submitted on their own: every
		// one must retire (and bump the completed-count word)
		// independently as data streams in, not as a single k-sized
		// transfer that only completes once the whole batch has run.
		for i := 0; i < r.n-1; i++ {
			fill := DescriptorFill{HostBuf: r.descs[i].hostBuf, Length: uint32(len(r.descs[i].hostBuf))}
			if err := c.StartPopulated([]DescriptorFill{fill}); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the latched failure, if any. Safe to call in any state.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err
}

// NumFreeDescriptors returns how many descriptors can currently be
// submitted through StartPopulated without exceeding the ring's N-1
// in-flight limit.
func (c *Channel) NumFreeDescriptors() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.ring.n) - 1 - c.inUse
}

func (c *Channel) fail(err *latchedError) {
	c.state = StateFailed
	c.err = err
	if c.cfg.OverallSuccess != nil {
		c.cfg.OverallSuccess.Store(false)
	}
}

// StartPopulated submits a contiguous run of descriptors starting at the
// ring's current free slot. It is valid from StateIdle (first submission,
// starts the engine) and StateRunning (appended to the already-running
// ring). The run must fit within NumFreeDescriptors. An empty run is
// rejected with ErrInvalidConfig; on a Failed channel the call does nothing
// and returns nil.
func (c *Channel) StartPopulated(descs []DescriptorFill) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.startPopulatedLocked(descs)
}

// startPopulatedLocked is StartPopulated's body, callable with c.mu already
// held (used internally by PollCompleted's continuous-stream refill).
func (c *Channel) startPopulatedLocked(descs []DescriptorFill) error {
	if c.state == StateFailed {
		return nil
	}
	if c.state != StateIdle && c.state != StateRunning {
		return fmt.Errorf("xdma: cannot start on a %s channel: %w", c.state, ErrInvalidConfig)
	}

	n := len(descs)
	if n == 0 {
		return fmt.Errorf("xdma: empty submission: %w", ErrInvalidConfig)
	}
	if uint32(n) > uint32(c.ring.n)-1-c.inUse {
		err := newLatchedError(ErrorKindRingFull, "requested %d descriptors, only %d free", n, uint32(c.ring.n)-1-c.inUse)
		c.fail(err)
		return err
	}

	startIdx := c.head
	prevTailIdx := (startIdx - 1 + c.ring.n) % c.ring.n
	wasRunning := c.state == StateRunning

	for i, df := range descs {
		idx := (startIdx + i) % c.ring.n
		d := c.ring.descs[idx]

		length := df.Length
		if length > MaxDescriptorLen {
			err := newLatchedError(ErrorKindDescriptorOverflow, "slot %d: length %d exceeds max %d", idx, length, MaxDescriptorLen)
			c.fail(err)
			return err
		}

		isLastInRun := i == n-1

		if !c.ring.preBound {
			if err := c.validateAdHoc(df, isLastInRun); err != nil {
				c.fail(err.(*latchedError))
				return err
			}
			c.ring.descs[idx].hostBuf = df.HostBuf
		}

		var flags uint8
		if isLastInRun {
			// Completed is always set on the last descriptor of a
			// submission so its retirement bumps the completed-count
			// word; Stop is omitted in continuous mode so the engine
			// keeps chasing next_addr forever.
			flags |= flagCompleted
			if !c.cfg.StreamContinuous {
				flags |= flagStop
			}
		}
		if df.EOP {
			flags |= flagEOP
		}

		adjacent := uint8(n - 1 - i)

		var src, dst uint64
		if !c.ring.preBound {
			hostIOVA, err := c.cfg.DataRegion.IOVA(c.hostOffsetOf(df.HostBuf))
			if err != nil {
				err := newLatchedError(ErrorKindInvalidConfig, "slot %d: host buffer not in DataRegion: %v", idx, err)
				c.fail(err)
				return err
			}
			if c.cfg.Direction == DirectionH2C {
				src, dst = hostIOVA, df.CardAddr
			} else {
				src, dst = df.CardAddr, hostIOVA
			}
		}

		d.fill(length, src, dst, adjacent, flags, c.ring.preBound)
	}

	c.ring.descsPerTransfer[startIdx] = uint32(n)

	lastIdx := (startIdx + n - 1) % c.ring.n
	c.head = (lastIdx + 1) % c.ring.n
	c.inUse += uint32(n)

	if !wasRunning {
		c.regs.setFirstDescriptor(c.ring.descIOVAs[startIdx], uint8(n-1))
		c.regs.setRun(true)
		c.state = StateRunning
	} else {
		c.ring.descs[prevTailIdx].clearFlag(flagStop)
		c.regs.bar.Write(c.regs.sgdma+sgdmaDescCredits, uint32(n))
		c.regs.bar.Flush(c.regs.sgdma + sgdmaDescCredits)
	}

	if c.hasDeadline {
		c.deadline = time.Now().Add(time.Duration(c.cfg.TimeoutSeconds * float64(time.Second)))
	}

	return nil
}

// hostOffsetOf recovers the DataRegion offset of a slice obtained from
// DataRegion.HostBase(), relying on cap(s[off:]) == cap(s) - off for any
// sub-slice sharing the same underlying array.
func (c *Channel) hostOffsetOf(buf []byte) uint64 {
	base := c.cfg.DataRegion.HostBase()
	return uint64(cap(base) - cap(buf))
}

func (c *Channel) validateAdHoc(df DescriptorFill, isLastInRun bool) error {
	if len(df.HostBuf) < int(df.Length) {
		return newLatchedError(ErrorKindInvalidConfig, "HostBuf shorter than Length")
	}
	if c.cfg.BridgeMemorySize != 0 {
		if df.CardAddr%uint64(c.addrAlignment) != 0 {
			return newLatchedError(ErrorKindAlignmentViolation, "CardAddr 0x%x not aligned to %d", df.CardAddr, c.addrAlignment)
		}
		if df.CardAddr+uint64(df.Length) > c.cfg.BridgeMemorySize {
			return newLatchedError(ErrorKindInvalidConfig, "CardAddr+Length exceeds BridgeMemorySize")
		}
	}
	if !isLastInRun && df.Length%c.lenGranularity != 0 {
		return newLatchedError(ErrorKindAlignmentViolation, "Length %d not a multiple of granularity %d on non-final descriptor", df.Length, c.lenGranularity)
	}
	return nil
}

func wrapSub(a, b uint32) uint32 {
	return (a - b) & completedCountMask
}

// PollCompleted reaps at most one completed transfer — a contiguous run of
// one or more descriptors submitted together by StartPopulated — and
// returns its buffer. ok is false when nothing new has completed, when the
// channel isn't running, or when a failure was just latched (check Err).
func (c *Channel) PollCompleted() (buf []byte, length int, eop bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning && c.state != StateDraining {
		return nil, 0, false, false
	}

	if errBits := c.regs.statusErrorBits(); errBits != 0 {
		c.fail(newLatchedError(ErrorKindEngineError, "status register error bits 0x%x", errBits))
		return nil, 0, false, false
	}

	if c.inUse == 0 {
		return nil, 0, false, false
	}

	raw := readCompletedCount(c.ring.completedView)
	c.numPendingCompleted += wrapSub(raw, c.previousCompletedCount)
	c.previousCompletedCount = raw

	firstIdx := c.tail
	k := c.ring.descsPerTransfer[firstIdx]

	if k == 0 || c.numPendingCompleted < k {
		if c.hasDeadline && !c.deadline.IsZero() && time.Now().After(c.deadline) {
			c.fail(newLatchedError(ErrorKindEngineTimeout, "no completion within %.3fs", c.cfg.TimeoutSeconds))
		}
		return nil, 0, false, false
	}

	streamMode := c.cfg.Direction == DirectionC2H && c.cfg.BridgeMemorySize == 0

	var lastIdx int
	if streamMode {
		wb := c.ring.streamWBs[firstIdx]
		if !wb.valid() {
			// The completed-count word already covers this transfer but
			// the per-descriptor writeback record hasn't landed yet;
			// try again on the next poll.
			return nil, 0, false, false
		}
		length = int(wb.length())
		eop = wb.eop()
		wb.clear()
		lastIdx = firstIdx
	} else {
		var total uint32
		for i := uint32(0); i < k; i++ {
			lastIdx = (firstIdx + int(i)) % c.ring.n
			total += c.ring.descs[lastIdx].byteCount()
		}
		length = int(total)
		eop = hasFlag(c.ring.descs[lastIdx].flags(), flagEOP)
	}

	hostBuf := c.ring.descs[firstIdx].hostBuf
	if !streamMode && !c.ring.preBound && hostBuf != nil {
		// An ad hoc multi-descriptor transfer is one logical buffer split
		// across descriptors by MaxDescriptorLen; reconstruct it from
		// DataRegion rather than returning just the first chunk.
		base := c.cfg.DataRegion.HostBase()
		off := c.hostOffsetOf(hostBuf)
		if off+uint64(length) <= uint64(len(base)) {
			hostBuf = base[off : off+uint64(length)]
		}
	}
	if hostBuf == nil {
		hostBuf = make([]byte, 0)
	}
	if length > len(hostBuf) {
		length = len(hostBuf)
	}
	buf = hostBuf[:length]

	c.numPendingCompleted -= k
	c.inUse -= k
	c.ring.descsPerTransfer[firstIdx] = 0
	c.tail = (firstIdx + int(k)) % c.ring.n

	if c.cfg.StreamContinuous {
		refillBuf := c.ring.descs[c.head].hostBuf
		refill := DescriptorFill{HostBuf: refillBuf, Length: uint32(len(refillBuf))}
		_ = c.startPopulatedLocked([]DescriptorFill{refill})
	}

	return buf, length, eop, true
}

// clearFlag clears bits in a descriptor's flag byte without touching
// adjacent or the magic tag.
func (d descriptor) clearFlag(mask uint8) {
	d.setMagicFlags(d.adjacent(), d.flags()&^mask)
}

// Finalize clears Run, waits up to finalizeTimeout for the engine to drain
// and go idle, and marks the channel Finalized (or Failed, if the engine
// does not go idle in time). Safe to call from any non-terminal state.
func (c *Channel) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFailed || c.state == StateFinalized {
		return
	}

	wasRunning := c.state == StateRunning
	c.state = StateDraining
	c.regs.setRun(false)

	if !wasRunning {
		c.state = StateFinalized
		return
	}

	if !c.regs.bar.WaitFor(finalizeTimeout, c.regs.channel+chanStatus, statusBusy, 1, 0) {
		c.fail(newLatchedError(ErrorKindFinaliseTimeout, "busy still asserted %s after Run cleared", finalizeTimeout))
		return
	}

	c.state = StateFinalized
}
