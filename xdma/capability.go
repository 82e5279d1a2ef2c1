package xdma

// BridgeCapabilities describes the channel counts discovered from the
// bridge identification block.
type BridgeCapabilities struct {
	NumH2C int
	NumC2H int
}

// ProbeBridge reads the bridge identification block and returns the
// configured channel counts. It returns ErrChannelMisconfigured if the
// identification signature does not match.
func ProbeBridge(bar RegisterWindow) (BridgeCapabilities, error) {
	ident := newIdentBlock(bar)
	if !ident.signatureOK() {
		return BridgeCapabilities{}, newLatchedError(ErrorKindChannelMisconfigured, "bridge identification signature mismatch")
	}
	return BridgeCapabilities{NumH2C: ident.numH2C(), NumC2H: ident.numC2H()}, nil
}

// ChannelCapabilities describes one channel's fixed alignment and
// addressing limits, as reported by its own register block.
type ChannelCapabilities struct {
	AddrAlignment  uint32
	LenGranularity uint32
	NumAddressBits uint32
}

// ProbeChannel reads a single channel's identification and alignment
// registers. It returns ErrChannelMisconfigured if the identification
// signature or target direction does not match.
func ProbeChannel(bar RegisterWindow, dir Direction, index int) (ChannelCapabilities, error) {
	regs := newRegBlock(bar, dir, index)

	if !regs.signatureOK() {
		return ChannelCapabilities{}, newLatchedError(ErrorKindChannelMisconfigured, "channel identification signature mismatch")
	}

	wantTarget := uint32(0)
	if dir == DirectionC2H {
		wantTarget = 1
	}
	if regs.target() != wantTarget {
		return ChannelCapabilities{}, newLatchedError(ErrorKindChannelMisconfigured, "channel target %d does not match requested direction %s", regs.target(), dir)
	}

	addrAlignment, lenGranularity, numAddressBits := regs.alignments()
	return ChannelCapabilities{
		AddrAlignment:  addrAlignment,
		LenGranularity: lenGranularity,
		NumAddressBits: numAddressBits,
	}, nil
}
